package errs_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/ardanlabs/chainnode/business/web/errs"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_Trusted(t *testing.T) {
	errHalted := errors.New("chain halted")

	t.Log("Given the need to hand expected failures to the error middleware.")
	{
		err := fmt.Errorf("start mining: %w", errs.NewTrusted(errHalted, http.StatusConflict))

		trusted := errs.GetTrusted(err)
		if trusted == nil || trusted.Status != http.StatusConflict {
			t.Fatalf("\t%s\tShould find the status in the chain: %+v", failed, trusted)
		}
		t.Logf("\t%s\tShould find the status in the chain.", success)

		if !errors.Is(err, errHalted) {
			t.Fatalf("\t%s\tShould still match the wrapped error.", failed)
		}
		t.Logf("\t%s\tShould still match the wrapped error.", success)

		if resp := trusted.Response(); resp.Error != "chain halted" {
			t.Fatalf("\t%s\tShould answer with the message of the error: got %q", failed, resp.Error)
		}
		t.Logf("\t%s\tShould answer with the message of the error.", success)

		if got := errs.GetTrusted(errs.NewTrusted(errHalted, http.StatusOK)); got.Status != http.StatusInternalServerError {
			t.Fatalf("\t%s\tShould not send a success status for an error: got %d", failed, got.Status)
		}
		t.Logf("\t%s\tShould not send a success status for an error.", success)

		if errs.IsTrusted(errHalted) {
			t.Fatalf("\t%s\tShould not treat a plain error as trusted.", failed)
		}
		t.Logf("\t%s\tShould not treat a plain error as trusted.", success)
	}
}
