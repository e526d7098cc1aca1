package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/httpcall"
)

// httpRequestExecutor reports non-2xx statuses in the output instead of
// failing, unless failOnStatus is set
type httpRequestExecutor struct{}

func (httpRequestExecutor) Execute(ctx context.Context, in Input) Outcome {
	url := strings.TrimSpace(domain.ConfigString(in.Config, "url"))
	if url == "" {
		return fatal(fmt.Errorf("url is required"))
	}
	if in.Deps.HTTP == nil {
		return fatal(fmt.Errorf("no HTTP client configured"))
	}

	if timeout := timeoutFromConfig(in.Config, in.Deps.Limits.HTTPTimeout, 0); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := in.Deps.HTTP.Do(ctx, httpcall.Request{
		URL:     url,
		Method:  domain.ConfigString(in.Config, "method"),
		Headers: domain.ConfigStringMap(in.Config, "headers"),
		Body:    domain.ConfigString(in.Config, "body"),
	})
	if err != nil {
		return fatal(err)
	}

	if resp.OK() {
		return Outcome{Output: resp.Body}
	}
	output := fmt.Sprintf("HTTP %d: %s", resp.Status, resp.Body)
	if domain.ConfigBool(in.Config, "failOnStatus") {
		return Outcome{Output: output, Err: fmt.Errorf("unexpected status %d", resp.Status), Fatal: true}
	}
	return Outcome{Output: output}
}
