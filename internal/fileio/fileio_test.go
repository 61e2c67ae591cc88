package fileio_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/kubev2v/texbatch/internal/fileio"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("fileio", func() {
	var (
		dir    string
		reader *fileio.Reader
		writer *fileio.Writer
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		reader = fileio.NewReader()
		reader.SetRootdir(dir)
		writer = fileio.NewWriter()
		writer.SetRootdir(dir)
	})

	Context("reader", func() {
		It("reads files relative to the root dir", func() {
			Expect(os.WriteFile(filepath.Join(dir, "a.tex"), []byte("x"), 0644)).To(Succeed())

			data, err := reader.ReadFile("a.tex")
			Expect(err).To(BeNil())
			Expect(string(data)).To(Equal("x"))
			Expect(reader.IsRegularFile("a.tex")).To(BeTrue())
		})

		It("reports missing paths and directories", func() {
			Expect(reader.IsRegularFile("missing.tex")).To(BeFalse())
			Expect(reader.IsRegularFile(".")).To(BeFalse())
		})

		It("leaves absolute paths alone", func() {
			Expect(reader.PathFor("/etc/hosts")).To(Equal("/etc/hosts"))
		})
	})

	Context("WriteFile", func() {
		It("replaces content and keeps the permissions", func() {
			p := filepath.Join(dir, "a.tex")
			Expect(os.WriteFile(p, []byte("old"), 0600)).To(Succeed())

			Expect(writer.WriteFile("a.tex", []byte("new"))).To(Succeed())

			data, err := os.ReadFile(p)
			Expect(err).To(BeNil())
			Expect(string(data)).To(Equal("new"))
			info, err := os.Stat(p)
			Expect(err).To(BeNil())
			Expect(info.Mode().Perm()).To(Equal(os.FileMode(0600)))
		})

		It("writes through a symlink and keeps the link", func() {
			realPath := filepath.Join(dir, "real.tex")
			link := filepath.Join(dir, "a.tex")
			Expect(os.WriteFile(realPath, []byte("orig"), 0644)).To(Succeed())
			Expect(os.Symlink("real.tex", link)).To(Succeed())

			Expect(writer.WriteFile("a.tex", []byte("new"))).To(Succeed())

			data, err := os.ReadFile(realPath)
			Expect(err).To(BeNil())
			Expect(string(data)).To(Equal("new"))
			info, err := os.Lstat(link)
			Expect(err).To(BeNil())
			Expect(info.Mode() & os.ModeSymlink).NotTo(BeZero())
			target, err := os.Readlink(link)
			Expect(err).To(BeNil())
			Expect(target).To(Equal("real.tex"))
		})

		It("creates the file when it does not exist yet", func() {
			Expect(writer.WriteFile("fresh.tex", []byte("new"))).To(Succeed())
			data, err := os.ReadFile(filepath.Join(dir, "fresh.tex"))
			Expect(err).To(BeNil())
			Expect(string(data)).To(Equal("new"))
		})

		It("does not leave temporary files behind", func() {
			Expect(writer.WriteFile("a.tex", []byte("new"))).To(Succeed())
			entries, err := os.ReadDir(dir)
			Expect(err).To(BeNil())
			Expect(entries).To(HaveLen(1))
		})
	})

	Context("CreateExclusive", func() {
		It("creates the file when absent", func() {
			Expect(writer.CreateExclusive("a.tex.orig", 0644, strings.NewReader("first"))).To(Succeed())
			data, err := os.ReadFile(filepath.Join(dir, "a.tex.orig"))
			Expect(err).To(BeNil())
			Expect(string(data)).To(Equal("first"))
		})

		It("never overwrites an existing file", func() {
			Expect(writer.CreateExclusive("a.tex.orig", 0644, strings.NewReader("first"))).To(Succeed())

			err := writer.CreateExclusive("a.tex.orig", 0644, strings.NewReader("second"))
			Expect(errors.Is(err, fileio.ErrExists)).To(BeTrue())

			data, err := os.ReadFile(filepath.Join(dir, "a.tex.orig"))
			Expect(err).To(BeNil())
			Expect(string(data)).To(Equal("first"))

			entries, err := os.ReadDir(dir)
			Expect(err).To(BeNil())
			Expect(entries).To(HaveLen(1))
		})
	})

	Context("CopyExclusive", func() {
		It("copies the source content", func() {
			Expect(os.WriteFile(filepath.Join(dir, "b.tex"), []byte("orig"), 0644)).To(Succeed())
			Expect(writer.CopyExclusive("b.tex", "b.tex.orig")).To(Succeed())

			data, err := os.ReadFile(filepath.Join(dir, "b.tex.orig"))
			Expect(err).To(BeNil())
			Expect(string(data)).To(Equal("orig"))
		})

		It("fails when the source is missing", func() {
			Expect(writer.CopyExclusive("nope.tex", "nope.tex.orig")).NotTo(Succeed())
		})
	})
})
