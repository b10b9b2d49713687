package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	apiKey    string
	userID    string
	userRole  string

	scope         string
	groupID       string
	networkCIDR   string
	declaredCount int
	impact        string
	approvalID    string
	emergency     bool

	reason       string
	rollbackType string
	statement    string
	status       string

	hostname  string
	ipAddress string
)

func main() {
	root := &cobra.Command{
		Use:   "trectl",
		Short: "CLI client for the threat response engine",
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("TRE_API_KEY"), "API key")
	root.PersistentFlags().StringVar(&userID, "user", os.Getenv("TRE_USER"), "Acting user id")
	root.PersistentFlags().StringVar(&userRole, "role", os.Getenv("TRE_ROLE"), "Acting user role")

	execCmd := &cobra.Command{
		Use:   "execute [decision-id] [incident-id] [machine-id] [command-type]",
		Short: "Run one policy decision through the execution pipeline",
		Args:  cobra.ExactArgs(4),
		RunE:  runExecute,
	}
	execCmd.Flags().StringVar(&scope, "scope", "HOST", "Blast scope (HOST, GROUP, NETWORK, GLOBAL)")
	execCmd.Flags().StringVar(&groupID, "group", "", "Group id for GROUP scope")
	execCmd.Flags().StringVar(&networkCIDR, "cidr", "", "CIDR for NETWORK scope")
	execCmd.Flags().IntVar(&declaredCount, "targets", 1, "Declared target count")
	execCmd.Flags().StringVar(&impact, "impact", "LOW", "Expected impact (LOW, MEDIUM, HIGH)")
	execCmd.Flags().StringVar(&approvalID, "approval", "", "Approval id")
	execCmd.Flags().BoolVar(&emergency, "emergency", false, "Emergency override")
	root.AddCommand(execCmd)

	rollbackCmd := &cobra.Command{
		Use:   "rollback [action-id]",
		Short: "Issue the signed inverse of a prior action",
		Args:  cobra.ExactArgs(1),
		RunE:  runRollback,
	}
	rollbackCmd.Flags().StringVar(&reason, "reason", "HUMAN_OVERRIDE", "Rollback reason")
	rollbackCmd.Flags().StringVar(&rollbackType, "type", "FULL", "Rollback type (FULL or PARTIAL)")
	rollbackCmd.Flags().StringVar(&approvalID, "approval", "", "Approval id")
	root.AddCommand(rollbackCmd)

	root.AddCommand(&cobra.Command{
		Use:   "action [action-id]",
		Short: "Show one response action",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return doGet("/actions/" + args[0])
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "actions [incident-id]",
		Short: "List an incident's response actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return doGet("/incidents/" + args[0] + "/actions")
		},
	})

	modeCmd := &cobra.Command{
		Use:   "mode",
		Short: "Inspect or change the execution mode",
	}
	modeCmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Show the active execution mode",
		RunE: func(_ *cobra.Command, _ []string) error {
			return doGet("/mode")
		},
	})
	setCmd := &cobra.Command{
		Use:   "set [mode]",
		Short: "Change the execution mode (SUPER_ADMIN only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return doJSON(http.MethodPut, "/mode", map[string]any{
				"mode":   args[0],
				"reason": reason,
			})
		},
	}
	setCmd.Flags().StringVar(&reason, "reason", "", "Reason for the change (required)")
	modeCmd.AddCommand(setCmd)
	modeCmd.AddCommand(&cobra.Command{
		Use:   "history",
		Short: "Show the mode change history",
		RunE: func(_ *cobra.Command, _ []string) error {
			return doGet("/mode/history")
		},
	})
	root.AddCommand(modeCmd)

	incidentCmd := &cobra.Command{
		Use:   "incident",
		Short: "Incident freeze operations",
	}
	reopenCmd := &cobra.Command{
		Use:   "reopen [incident-id]",
		Short: "Reopen a frozen incident (SUPER_ADMIN only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return doJSON(http.MethodPost, "/incidents/"+args[0]+"/reopen", map[string]any{
				"justification": reason,
			})
		},
	}
	reopenCmd.Flags().StringVar(&reason, "justification", "", "Justification (required)")
	incidentCmd.AddCommand(reopenCmd)
	closeCmd := &cobra.Command{
		Use:   "close [incident-id]",
		Short: "Close an incident once all attestations are complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return doJSON(http.MethodPost, "/incidents/"+args[0]+"/close", map[string]any{
				"status": status,
			})
		},
	}
	closeCmd.Flags().StringVar(&status, "status", "CLOSED", "Terminal status (CLOSED or RESOLVED_WITH_ACTIONS)")
	incidentCmd.AddCommand(closeCmd)
	root.AddCommand(incidentCmd)

	attestCmd := &cobra.Command{
		Use:   "attest",
		Short: "Submit attestation statements",
	}
	for _, role := range []string{"executor", "approver"} {
		role := role
		sub := &cobra.Command{
			Use:   role + " [attestation-id]",
			Short: "Submit the " + role + " statement",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				return doJSON(http.MethodPost, "/attestations/"+args[0]+"/"+role, map[string]any{
					"statement": statement,
				})
			},
		}
		sub.Flags().StringVar(&statement, "statement", "", "Statement text (required)")
		attestCmd.AddCommand(sub)
	}
	root.AddCommand(attestCmd)

	hostCmd := &cobra.Command{
		Use:   "host",
		Short: "Host inventory operations",
	}
	registerCmd := &cobra.Command{
		Use:   "register [machine-id]",
		Short: "Add or refresh a host inventory row (SUPER_ADMIN only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return doJSON(http.MethodPut, "/hosts/"+args[0], map[string]any{
				"hostname":   hostname,
				"ip_address": ipAddress,
				"group_id":   groupID,
			})
		},
	}
	registerCmd.Flags().StringVar(&hostname, "hostname", "", "Host name")
	registerCmd.Flags().StringVar(&ipAddress, "ip", "", "Host IP address")
	registerCmd.Flags().StringVar(&groupID, "group", "", "Host group id")
	hostCmd.AddCommand(registerCmd)
	root.AddCommand(hostCmd)

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE:  runHealth,
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runExecute(_ *cobra.Command, args []string) error {
	return doJSON(http.MethodPost, "/actions", map[string]any{
		"policy_decision": map[string]any{
			"policy_decision_id":      args[0],
			"incident_id":             args[1],
			"machine_id":              args[2],
			"recommended_action":      args[3],
			"should_recommend_action": true,
		},
		"blast": map[string]any{
			"scope":                 scope,
			"machine_id":            args[2],
			"group_id":              groupID,
			"network_cidr":          networkCIDR,
			"declared_target_count": declaredCount,
			"expected_impact":       impact,
		},
		"approval_id": approvalID,
		"emergency":   emergency,
	})
}

func runRollback(_ *cobra.Command, args []string) error {
	return doJSON(http.MethodPost, "/actions/"+args[0]+"/rollback", map[string]any{
		"reason":      reason,
		"type":        rollbackType,
		"approval_id": approvalID,
	})
}

func runHealth(_ *cobra.Command, _ []string) error {
	resp, err := http.Get(serverURL + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]any
	json.NewDecoder(resp.Body).Decode(&result)
	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))
	return nil
}

func doGet(path string) error {
	req, err := http.NewRequest(http.MethodGet, serverURL+path, nil)
	if err != nil {
		return err
	}
	return do(req)
}

func doJSON(method, path string, payload map[string]any) error {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequest(method, serverURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return do(req)
}

func do(req *http.Request) error {
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	req.Header.Set("X-User-ID", userID)
	req.Header.Set("X-User-Role", userRole)

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}
