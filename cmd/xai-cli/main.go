package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/davidahmann/xaidecide/internal/policy"
)

const defaultAddr = "http://localhost:8000"

func main() {
	exitFn(run(os.Args, os.Stdout, os.Stderr))
}

var exitFn = os.Exit

// errUsage marks argument errors so they exit with code 2.
var errUsage = errors.New("usage")

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args[1:])
	if err := root.Execute(); err != nil {
		fmt.Fprintln(stderr, err.Error())
		if errors.Is(err, errUsage) || strings.HasPrefix(err.Error(), "unknown command") {
			return 2
		}
		return 1
	}
	return 0
}

type client struct {
	addr    string
	jsonOut bool
	http    *http.Client
	stdout  io.Writer
}

func newRootCmd(stdout io.Writer, stderr io.Writer) *cobra.Command {
	c := &client{http: http.DefaultClient, stdout: stdout}

	root := &cobra.Command{
		Use:           "xai-cli",
		Short:         "XAI decision gateway client",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Usage()
			return fmt.Errorf("%w: a command is required", errUsage)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&c.addr, "addr", envOrDefault("XAI_ADDR", defaultAddr), "gateway address")
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "print raw JSON response")

	root.AddCommand(c.evaluateCmd(), c.submitCmd(), c.reviewCmd(), c.policyCmd())
	return root
}

func (c *client) evaluateCmd() *cobra.Command {
	var domain, file string
	cmd := &cobra.Command{
		Use:   "evaluate [applicant-json]",
		Short: "Evaluate one applicant without filing an application",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := applicantBody(args, file)
			if err != nil {
				return err
			}
			resp, err := c.do(http.MethodPost, "/decision/json", url.Values{"decision_type": {domain}}, body)
			if err != nil || c.raw(resp) {
				return err
			}
			var v struct {
				Decision struct {
					Status     string  `json:"status"`
					Confidence float64 `json:"confidence"`
					Reasoning  string  `json:"reasoning"`
				} `json:"decision"`
				Counterfactuals []string `json:"counterfactuals"`
			}
			if err := json.Unmarshal(resp, &v); err != nil {
				return fmt.Errorf("invalid response: %w", err)
			}
			fmt.Fprintf(c.stdout, "status=%s confidence=%.2f\n", v.Decision.Status, v.Decision.Confidence)
			fmt.Fprintf(c.stdout, "reasoning: %s\n", v.Decision.Reasoning)
			for _, cf := range v.Counterfactuals {
				fmt.Fprintf(c.stdout, "  %s\n", cf)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&domain, "type", "loan", "decision type: loan, credit, insurance or job")
	cmd.Flags().StringVar(&file, "file", "", "read applicant JSON from a file")
	return cmd
}

func (c *client) submitCmd() *cobra.Command {
	var domain, file string
	cmd := &cobra.Command{
		Use:   "submit [applicant-json]",
		Short: "File an application for model evaluation and human review",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := applicantBody(args, file)
			if err != nil {
				return err
			}
			resp, err := c.do(http.MethodPost, "/applications", url.Values{"decision_type": {domain}}, body)
			if err != nil || c.raw(resp) {
				return err
			}
			return c.printApplication(resp)
		},
	}
	cmd.Flags().StringVar(&domain, "type", "loan", "decision type: loan, credit, insurance or job")
	cmd.Flags().StringVar(&file, "file", "", "read applicant JSON from a file")
	return cmd
}

func (c *client) reviewCmd() *cobra.Command {
	var decision, comment string
	cmd := &cobra.Command{
		Use:   "review <application-id>",
		Short: "Record the human decision for an application",
		Args:  exactArgs(1, "review requires <application-id>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if decision == "" {
				return fmt.Errorf("%w: --decision is required", errUsage)
			}
			q := url.Values{"decision": {decision}}
			if comment != "" {
				q.Set("comment", comment)
			}
			resp, err := c.do(http.MethodPost, "/applications/"+url.PathEscape(args[0])+"/review", q, nil)
			if err != nil || c.raw(resp) {
				return err
			}
			return c.printApplication(resp)
		},
	}
	cmd.Flags().StringVar(&decision, "decision", "", "approved or rejected")
	cmd.Flags().StringVar(&comment, "comment", "", "reviewer comment")
	return cmd
}

func (c *client) policyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage decision policies",
	}

	var addDomain string
	add := &cobra.Command{
		Use:   "add <text>",
		Short: "Attach a policy to a domain",
		Args:  exactArgs(1, "policy add requires <text>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{"domain": {addDomain}, "policy_text": {args[0]}}
			resp, err := c.do(http.MethodPost, "/policies", q, nil)
			if err != nil || c.raw(resp) {
				return err
			}
			var out struct {
				Policy struct {
					ID     string `json:"id"`
					Domain string `json:"domain"`
				} `json:"policy"`
			}
			if err := json.Unmarshal(resp, &out); err != nil {
				return fmt.Errorf("invalid response: %w", err)
			}
			fmt.Fprintf(c.stdout, "added id=%s domain=%s\n", out.Policy.ID, out.Policy.Domain)
			return nil
		},
	}
	add.Flags().StringVar(&addDomain, "domain", "global", "policy domain")

	var listDomain string
	list := &cobra.Command{
		Use:   "list",
		Short: "List policies grouped by domain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if listDomain != "" {
				q.Set("domain", listDomain)
			}
			resp, err := c.do(http.MethodGet, "/policies", q, nil)
			if err != nil || c.raw(resp) {
				return err
			}
			var grouped map[string][]struct {
				ID   string `json:"id"`
				Text string `json:"text"`
			}
			if err := json.Unmarshal(resp, &grouped); err != nil {
				return fmt.Errorf("invalid response: %w", err)
			}
			for _, domain := range []string{"global", "loan", "credit", "insurance", "job"} {
				policies, ok := grouped[domain]
				if !ok {
					continue
				}
				fmt.Fprintf(c.stdout, "%s (%d)\n", domain, len(policies))
				for _, p := range policies {
					fmt.Fprintf(c.stdout, "  %s  %s\n", p.ID, p.Text)
				}
			}
			return nil
		},
	}
	list.Flags().StringVar(&listDomain, "domain", "", "only this domain")

	remove := &cobra.Command{
		Use:   "remove <domain> <policy-id>",
		Short: "Delete a policy",
		Args:  exactArgs(2, "policy remove requires <domain> <policy-id>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/policies/" + url.PathEscape(args[0]) + "/" + url.PathEscape(args[1])
			resp, err := c.do(http.MethodDelete, path, nil, nil)
			if err != nil || c.raw(resp) {
				return err
			}
			fmt.Fprintf(c.stdout, "removed id=%s domain=%s\n", args[1], args[0])
			return nil
		},
	}

	lint := &cobra.Command{
		Use:   "lint <seed-path>",
		Short: "Validate a policy seed file locally",
		Args:  exactArgs(1, "policy lint requires <seed-path>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := policy.LoadSeed(args[0])
			if err != nil {
				return err
			}
			count := 0
			for _, texts := range loaded.Seed.Policies {
				count += len(texts)
			}
			fmt.Fprintf(c.stdout, "ok policies=%d seed_hash=%s\n", count, loaded.Hash)
			return nil
		},
	}

	cmd.AddCommand(add, list, remove, lint)
	return cmd
}

func (c *client) printApplication(resp []byte) error {
	var app struct {
		ID         string `json:"id"`
		Status     string `json:"status"`
		IsOverride bool   `json:"is_override"`
		AIResult   *struct {
			Decision struct {
				Status string `json:"status"`
			} `json:"decision"`
		} `json:"ai_result"`
	}
	if err := json.Unmarshal(resp, &app); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}
	ai := "none"
	if app.AIResult != nil {
		ai = app.AIResult.Decision.Status
	}
	fmt.Fprintf(c.stdout, "id=%s status=%s ai=%s override=%t\n", app.ID, app.Status, ai, app.IsOverride)
	return nil
}

// raw prints the body when --json is set and reports whether it did.
func (c *client) raw(body []byte) bool {
	if !c.jsonOut {
		return false
	}
	_, _ = c.stdout.Write(body)
	return true
}

func (c *client) do(method, path string, query url.Values, body []byte) ([]byte, error) {
	target := strings.TrimRight(c.addr, "/") + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, target, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}

// applicantBody takes applicant JSON from the positional argument or --file.
func applicantBody(args []string, file string) ([]byte, error) {
	var data []byte
	switch {
	case file != "" && len(args) > 0:
		return nil, fmt.Errorf("%w: pass applicant JSON or --file, not both", errUsage)
	case file != "":
		// #nosec G304 -- path is supplied by the operator.
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		data = raw
	case len(args) == 1:
		data = []byte(args[0])
	default:
		return nil, fmt.Errorf("%w: applicant JSON or --file is required", errUsage)
	}

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("applicant must be a JSON object: %w", err)
	}
	return data, nil
}

func exactArgs(n int, msg string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("%w: %s", errUsage, msg)
		}
		return nil
	}
}

func envOrDefault(key string, fallback string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallback
}
