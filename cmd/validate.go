package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"firestige.xyz/flowgate/internal/acl"
	"firestige.xyz/flowgate/internal/config"
	"firestige.xyz/flowgate/internal/daemon"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration or a policy file",
	Long: `Validate the configuration file without starting the controller.
Gateways and the ACL are compiled exactly as the daemon would compile them.

With --policy only the standalone policy file is checked and its rules are
listed in evaluation order.

Examples:
  flowgate validate -c config.yml
  flowgate validate --policy policy.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := runValidate(configFile, validatePolicyFile, cmd.OutOrStdout()); err != nil {
			fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
			os.Exit(1)
		}
		return nil
	},
}

var validatePolicyFile string

func init() {
	validateCmd.Flags().StringVar(&validatePolicyFile, "policy", "",
		"standalone policy file to validate instead of the config")
}

func runValidate(configPath, policyPath string, out io.Writer) error {
	if policyPath != "" {
		policy, err := config.ParsePolicyFile(policyPath, "")
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "VALID: policy %s: %d rule(s), default %s\n", policyPath, policy.Len(), policy.DefaultAction())
		renderRules(out, policy)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	topo, err := daemon.LoadTopology(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "VALID: %d switch(es), %d gateway(s), %d rule(s), default %s\n",
		len(cfg.Switches), topo.Gateways.Len(), topo.Policy.Len(), topo.Policy.DefaultAction())
	for _, sw := range cfg.Switches {
		fmt.Fprintf(out, "  switch %s: mode=%s source=%s output=%s\n", sw.Name, sw.Mode, sw.Source.Type, sw.Output)
	}
	return nil
}

func renderRules(out io.Writer, policy *acl.Policy) {
	if policy.Len() == 0 {
		return
	}
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"#", "Name", "Rule"})
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for i, r := range policy.Rules() {
		table.Append([]string{strconv.Itoa(i), r.Name, r.String()})
	}
	table.Render()
}
