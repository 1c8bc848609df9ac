package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"firestige.xyz/flowgate/internal/channel"
	"firestige.xyz/flowgate/internal/config"
	"firestige.xyz/flowgate/internal/controller"
	"firestige.xyz/flowgate/internal/daemon"
	"firestige.xyz/flowgate/internal/eventbus"
)

var replayCmd = &cobra.Command{
	Use:   "replay [capture]",
	Short: "Feed a capture through a fresh controller instance",
	Long: `Replay a pcap or pcapng capture through a fresh controller instance for one
switch and print every decision and every control-channel call.

Time is taken from the capture, so a replay is deterministic: the same
capture and configuration always produce the same output. The capture
defaults to the switch's configured source file.

Examples:
  flowgate replay -c config.yml -s edge trace.pcap
  flowgate replay -c config.yml -s edge --settle 5s trace.pcapng`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if len(args) == 1 {
			replayOpts.Path = args[0]
		}
		return runReplay(cfg, replayOpts, cmd.OutOrStdout())
	},
}

type replayOptions struct {
	Switch string
	Path   string
	// Settle keeps the expiry timer running this long past the last frame.
	Settle time.Duration
	// CallsOnly skips the decision table.
	CallsOnly bool
}

var replayOpts replayOptions

func init() {
	replayCmd.Flags().StringVarP(&replayOpts.Switch, "switch", "s", "", "switch to replay (default: the only configured switch)")
	replayCmd.Flags().DurationVar(&replayOpts.Settle, "settle", 0, "run ARP expiry for this long after the last frame")
	replayCmd.Flags().BoolVar(&replayOpts.CallsOnly, "calls-only", false, "print only the control-channel calls")
}

// eventTally counts operator events by topic.
type eventTally struct {
	mu     sync.Mutex
	counts map[string]int
}

func (t *eventTally) Publish(ev *eventbus.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.counts == nil {
		t.counts = make(map[string]int)
	}
	t.counts[ev.Topic]++
	return nil
}

func (t *eventTally) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.counts) == 0 {
		return "none"
	}
	topics := make([]string, 0, len(t.counts))
	for topic := range t.counts {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	parts := make([]string, len(topics))
	for i, topic := range topics {
		parts[i] = fmt.Sprintf("%s=%d", topic, t.counts[topic])
	}
	return strings.Join(parts, " ")
}

type replayRow struct {
	id string
	d  controller.Decision
}

func runReplay(cfg *config.GlobalConfig, opts replayOptions, out io.Writer) error {
	name := opts.Switch
	if name == "" {
		if len(cfg.Switches) != 1 {
			return fmt.Errorf("--switch is required when %d switches are configured", len(cfg.Switches))
		}
		name = cfg.Switches[0].Name
	}
	sw, ok := cfg.Switch(name)
	if !ok {
		return fmt.Errorf("unknown switch %q", name)
	}

	topo, err := daemon.LoadTopology(cfg)
	if err != nil {
		return err
	}
	rec := channel.NewRecorder()
	events := &eventTally{}
	engine, err := daemon.NewEngine(cfg, sw, topo, rec, events, slog.Default().With("switch", sw.Name))
	if err != nil {
		return err
	}
	src, err := daemon.OpenSource(sw, opts.Path)
	if err != nil {
		return err
	}
	defer src.Close()

	var (
		rows   []replayRow
		frames int
		last   time.Time
	)
	push := func(id string, d controller.Decision) {
		rows = append(rows, replayRow{id: id, d: d})
		for j, r := range d.Released {
			rows = append(rows, replayRow{id: id + "." + strconv.Itoa(j+1), d: r})
		}
	}
	sweep := func(now time.Time) {
		for _, d := range engine.Expire(now) {
			push("timer", d)
		}
	}

	for {
		f, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read frame %d: %w", frames+1, err)
		}
		frames++
		last = f.Timestamp
		sweep(f.Timestamp)
		push(strconv.Itoa(frames), engine.HandlePacketIn(f.Data, f.InPort, f.Timestamp))
	}

	if opts.Settle > 0 && frames > 0 {
		step := engine.Resolver().Config().RetryInterval
		for t := last.Add(step); !t.After(last.Add(opts.Settle)); t = t.Add(step) {
			sweep(t)
		}
	}

	if !opts.CallsOnly {
		renderDecisions(out, rows)
	}
	calls := rec.Calls()
	renderCalls(out, calls)
	fmt.Fprintf(out, "switch %s (%s): %d frame(s), %d decision(s), %d call(s), events: %s\n",
		sw.Name, sw.Mode, frames, len(rows), len(calls), events)
	return nil
}

func renderDecisions(out io.Writer, rows []replayRow) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"#", "In", "Path", "Outcome", "Detail"})
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, r := range rows {
		in := ""
		if r.d.InPort != 0 {
			in = strconv.FormatUint(uint64(r.d.InPort), 10)
		}
		table.Append([]string{r.id, in, r.d.Path, string(r.d.Outcome), decisionDetail(r.d)})
	}
	table.Render()
}

func decisionDetail(d controller.Decision) string {
	var parts []string
	if d.Port != 0 {
		parts = append(parts, "port="+strconv.FormatUint(uint64(d.Port), 10))
	}
	if d.Rule != "" {
		parts = append(parts, "rule="+d.Rule)
	}
	if d.Target.IsValid() {
		parts = append(parts, "target="+d.Target.String())
	}
	if d.Reason != "" {
		parts = append(parts, d.Reason)
	}
	if d.Err != nil {
		parts = append(parts, "error: "+d.Err.Error())
	}
	return strings.Join(parts, " ")
}

func renderCalls(out io.Writer, calls []channel.Call) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"#", "Call", "Detail"})
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for i, c := range calls {
		kind, detail, _ := strings.Cut(c.String(), " ")
		table.Append([]string{strconv.Itoa(i + 1), kind, detail})
	}
	table.Render()
}
