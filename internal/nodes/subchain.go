package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
)

type subChainExecutor struct{}

func (subChainExecutor) Execute(ctx context.Context, in Input) Outcome {
	chainID := strings.TrimSpace(domain.ConfigString(in.Config, "chainId"))
	if chainID == "" {
		return fatal(fmt.Errorf("chainId is required"))
	}
	if in.SubChains == nil {
		return fatal(fmt.Errorf("sub-chain runner not available"))
	}
	out, err := in.SubChains.RunSubChain(ctx, chainID)
	if err != nil {
		return fatal(err)
	}
	return Outcome{Output: out}
}
