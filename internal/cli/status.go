package cli

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/kyra-ai/kyra/internal/config"
	"github.com/kyra-ai/kyra/pkg/agent"
	"github.com/kyra-ai/kyra/pkg/governor"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show governor and agent status",
	Long:  `Query the status endpoint of a running Kyra instance.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type statusReply struct {
	Governor governor.Snapshot `json:"governor"`
	Agents   []agent.Status    `json:"agents"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Gateway.Enabled {
		return fmt.Errorf("gateway is disabled; status endpoint unavailable")
	}

	url := fmt.Sprintf("http://%s/status",
		net.JoinHostPort(cfg.Gateway.Host, fmt.Sprintf("%d", cfg.Gateway.Port)))

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Kyra-Secret", cfg.Gateway.SharedSecret)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Println("Status: not running")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status endpoint returned %s", resp.Status)
	}

	var reply statusReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return fmt.Errorf("failed to decode status response: %w", err)
	}

	fmt.Println("Status: running")
	fmt.Printf("Tempo: %s\n", reply.Governor.Tempo)
	fmt.Printf("Breaker: %s", reply.Governor.Breaker.Status)
	if reply.Governor.Breaker.NextRetryAt != nil {
		fmt.Printf(" (retry at %s)", reply.Governor.Breaker.NextRetryAt.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Printf("Live agents: %d\n", reply.Governor.LiveAgents)
	if len(reply.Governor.PausedRoots) > 0 {
		fmt.Printf("Paused hierarchies: %v\n", reply.Governor.PausedRoots)
	}

	for _, a := range reply.Agents {
		fmt.Printf("  %s  role=%s phase=%s active=%t children=%d\n",
			a.ID, a.Role, a.Phase, a.Active, a.ChildCount)
	}

	return nil
}
