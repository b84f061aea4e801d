package reconcile

import (
	"fmt"

	"github.com/Bridgeconn/obt-workflow/internal/util"
)

// ValidationError reports content that violates versification expectations.
// Book and Chapter are zero when the failure is project-wide.
type ValidationError struct {
	Book    string
	Chapter int
	Reason  string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Book != "" && e.Chapter > 0:
		return fmt.Sprintf("%s: %s chapter %d: %s", util.ErrValidation, e.Book, e.Chapter, e.Reason)
	case e.Book != "":
		return fmt.Sprintf("%s: %s: %s", util.ErrValidation, e.Book, e.Reason)
	default:
		return fmt.Sprintf("%s: %s", util.ErrValidation, e.Reason)
	}
}

func (e *ValidationError) Unwrap() error { return util.ErrValidation }
