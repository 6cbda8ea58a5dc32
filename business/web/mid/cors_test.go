package mid_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ardanlabs/chainnode/business/web/mid"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_Cors(t *testing.T) {
	next := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}

	tt := []struct {
		name    string
		methods []string
		exp     string
	}{
		{name: "read only", exp: "GET, OPTIONS"},
		{name: "commands", methods: []string{http.MethodPost, http.MethodOptions}, exp: "POST, OPTIONS"},
	}

	t.Log("Given the need to answer browsers from other origins.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen allowing the %s methods.", testID, tst.name)
			{
				h := mid.Cors("*", tst.methods...)(next)

				w := httptest.NewRecorder()
				r := httptest.NewRequest(http.MethodOptions, "/v1/node/status", nil)
				if err := h(context.Background(), w, r); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould run the next handler: %s", failed, testID, err)
				}

				if w.Code != http.StatusNoContent {
					t.Fatalf("\t%s\tTest %d:\tShould run the next handler: status %d", failed, testID, w.Code)
				}
				t.Logf("\t%s\tTest %d:\tShould run the next handler.", success, testID)

				if got := w.Header().Get("Access-Control-Allow-Methods"); got != tst.exp {
					t.Logf("\t\tgot: %s", got)
					t.Logf("\t\texp: %s", tst.exp)
					t.Fatalf("\t%s\tTest %d:\tShould allow only the listed methods.", failed, testID)
				}
				t.Logf("\t%s\tTest %d:\tShould allow only the listed methods.", success, testID)

				if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
					t.Fatalf("\t%s\tTest %d:\tShould allow the origin: got %q", failed, testID, got)
				}
				t.Logf("\t%s\tTest %d:\tShould allow the origin.", success, testID)
			}
		}
	}
}
