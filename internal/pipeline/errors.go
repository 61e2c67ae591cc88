package pipeline

import "fmt"

type ErrRunNotFound struct {
	error
}

func NewErrRunNotFound(batchID string) *ErrRunNotFound {
	return &ErrRunNotFound{fmt.Errorf("no run recorded for batch %s", batchID)}
}
