package cmd

import (
	"fmt"
	"io"
	"net/netip"
	"strconv"

	"github.com/spf13/cobra"

	"firestige.xyz/flowgate/internal/acl"
	"firestige.xyz/flowgate/internal/config"
	"firestige.xyz/flowgate/internal/core"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate one flow against the policy",
	Long: `Evaluate a source, destination, protocol and destination port against the
ACL and print the verdict with the rule that decided it.

Examples:
  flowgate check -c config.yml --src 10.0.0.1 --dst 10.0.0.2 --proto tcp --dport 22
  flowgate check --policy policy.yml --src 10.0.0.1 --dst 10.0.0.2 --proto icmp`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			policy *acl.Policy
			err    error
		)
		if checkPolicyFile != "" {
			policy, err = config.ParsePolicyFile(checkPolicyFile, "")
		} else {
			var cfg *config.GlobalConfig
			if cfg, err = config.Load(configFile); err == nil {
				policy, err = cfg.CompilePolicy()
			}
		}
		if err != nil {
			return err
		}
		return runCheck(policy, checkArgs, cmd.OutOrStdout())
	},
}

type checkInput struct {
	Src, Dst string
	Proto    string
	DstPort  string
}

var (
	checkPolicyFile string
	checkArgs       checkInput
)

func init() {
	checkCmd.Flags().StringVar(&checkPolicyFile, "policy", "", "standalone policy file (default: policy from config)")
	checkCmd.Flags().StringVar(&checkArgs.Src, "src", "", "source IPv4 address (required)")
	checkCmd.Flags().StringVar(&checkArgs.Dst, "dst", "", "destination IPv4 address (required)")
	checkCmd.Flags().StringVar(&checkArgs.Proto, "proto", "tcp", "protocol name or number")
	checkCmd.Flags().StringVar(&checkArgs.DstPort, "dport", "", "destination port, empty for portless packets")
	checkCmd.MarkFlagRequired("src")
	checkCmd.MarkFlagRequired("dst")
}

func runCheck(policy *acl.Policy, in checkInput, out io.Writer) error {
	src, err := netip.ParseAddr(in.Src)
	if err != nil {
		return fmt.Errorf("src: %w", err)
	}
	dst, err := netip.ParseAddr(in.Dst)
	if err != nil {
		return fmt.Errorf("dst: %w", err)
	}
	proto, err := acl.ParseProto(in.Proto)
	if err != nil {
		return err
	}
	if !proto.Set {
		return fmt.Errorf("proto: a concrete protocol is required")
	}
	var port core.OptPort
	if in.DstPort != "" {
		n, err := strconv.ParseUint(in.DstPort, 10, 16)
		if err != nil {
			return fmt.Errorf("dport: %w", err)
		}
		port = core.PortOf(uint16(n))
	}

	v := policy.Evaluate(src, dst, proto.Number, port)
	verdict := "permit"
	if v.Blocked {
		verdict = "deny"
	}
	if v.Default() {
		fmt.Fprintf(out, "%s (default)\n", verdict)
		return nil
	}
	if v.RuleName != "" {
		fmt.Fprintf(out, "%s (rule %d %s)\n", verdict, v.Rule, v.RuleName)
		return nil
	}
	fmt.Fprintf(out, "%s (rule %d)\n", verdict, v.Rule)
	return nil
}
