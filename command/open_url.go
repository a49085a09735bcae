package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/springtools/stsclient/opener"
)

// OpenURL is sent by the Spring Boot language server in CodeLenses and
// hovers that link to a running application or to documentation.
const OpenURL = "sts.open.url"

var ErrInvalidArgument = errors.New("invalid command argument")

// OpenURLHandler opens its first argument, a URL string, with the best
// opener available. A missing or empty URL is ignored.
func OpenURLHandler(openers *opener.Service) Handler {
	return func(ctx context.Context, args []any) (any, error) {
		if len(args) == 0 || args[0] == nil {
			return nil, nil
		}
		raw, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects a url string, got %T", ErrInvalidArgument, OpenURL, args[0])
		}
		if raw == "" {
			return nil, nil
		}

		u, err := opener.Parse(raw)
		if err != nil {
			return nil, err
		}
		return nil, openers.Open(ctx, u)
	}
}
