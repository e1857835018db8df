package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"ideaflow/application/commands"
	commandbus "ideaflow/application/commands/bus"
	"ideaflow/application/queries"
	querybus "ideaflow/application/queries/bus"
	"ideaflow/application/services"
	domainconfig "ideaflow/domain/config"
	"ideaflow/domain/core/aggregates"
	"ideaflow/domain/core/entities"
	"ideaflow/domain/core/validators"
	"ideaflow/domain/core/valueobjects"
	"ideaflow/domain/services/planning"
	appconfig "ideaflow/infrastructure/config"
	"ideaflow/infrastructure/persistence/memory"
	"ideaflow/pkg/utils"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// transcriptLine is one message of a JSONL transcript
type transcriptLine struct {
	ID        string                 `json:"id"`
	Author    string                 `json:"author"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Platform  string                 `json:"platform"`
	Metadata  map[string]interface{} `json:"metadata"`

	line int
}

type replayOptions struct {
	Title  string
	Wait   time.Duration
	Policy *domainconfig.DomainConfig
	Logger *zap.Logger
}

// replayReport is what a replay prints
type replayReport struct {
	Session   *queries.SessionSummary   `json:"session"`
	Ideas     []queries.IdeaSummary     `json:"ideas"`
	Consensus entities.ConsensusTracker `json:"consensus"`
	Plan      *queries.PlanResult       `json:"plan"`
	Rejected  []rejectedLine            `json:"rejected,omitempty"`
}

type rejectedLine struct {
	Line   int    `json:"line"`
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

func newReplayCmd() *cobra.Command {
	var (
		title  string
		output string
		wait   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "replay <transcript.jsonl>",
		Short: "Replay a JSONL transcript and print the consensus and plan",
		Long: `Feeds every message of a JSONL transcript through extraction, clustering,
strength evaluation and consensus detection, then waits for the plan.
Each line is {"id","author","content","timestamp","platform","metadata"}.
Use "-" to read the transcript from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "text" && output != "json" {
				return fmt.Errorf("unknown output format %q", output)
			}
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			policy, err := appconfig.LoadPolicy(environment, policyFile)
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			report, err := replay(cmd.Context(), in, replayOptions{
				Title:  title,
				Wait:   wait,
				Policy: policy,
				Logger: logger,
			})
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), report, output)
		},
	}
	cmd.Flags().StringVar(&title, "title", "Transcript replay", "session title")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "how long to wait for the plan")
	return cmd
}

func readTranscript(in io.Reader) ([]transcriptLine, error) {
	var lines []transcriptLine
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	n := 0
	for scanner.Scan() {
		n++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		var line transcriptLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		line.line = n
		if line.ID == "" {
			line.ID = fmt.Sprintf("line-%d", n)
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

// replay runs the transcript on an in-memory store. The clock follows the
// transcript timestamps so cooldowns behave as they did in the discussion.
func replay(ctx context.Context, in io.Reader, opts replayOptions) (*replayReport, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	lines, err := readTranscript(in)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("transcript is empty")
	}

	policy := opts.Policy
	if policy == nil {
		policy = domainconfig.DefaultDomainConfig()
	}
	// Transcripts are already ordered; holding messages back gains nothing.
	policy = policy.Clone()
	policy.LatenessWindow = 0
	holder := domainconfig.NewHolder(policy)

	start := lines[0].Timestamp
	if start.IsZero() {
		start = time.Now().UTC()
	}
	clock := utils.NewFakeClock(start)
	store := memory.NewStore(nil, clock, logger)
	pipeline := services.NewPipeline(holder, nil, nil, clock, nil, logger)
	planner := services.NewPlanService(planning.NewTemplateProducer(), holder, clock, nil, logger)
	manager := services.NewSessionManager(store, pipeline, planner, nil, nil, logger)
	defer func() {
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = manager.Shutdown(shutdown)
	}()

	commandBus := commandbus.NewCommandBus(commandbus.LoggingMiddleware(logger))
	if err := commands.NewSessionHandlers(manager, validators.NewMessageValidator(policy.MaxContentLength, policy.MaxParticipants), logger).Register(commandBus); err != nil {
		return nil, err
	}
	queryBus := querybus.NewQueryBus(logger)
	if err := queries.NewSessionQueries(manager, store).Register(queryBus); err != nil {
		return nil, err
	}

	var participants []string
	seen := make(map[string]bool)
	for _, l := range lines {
		if l.Author != "" && !seen[l.Author] {
			seen[l.Author] = true
			participants = append(participants, l.Author)
		}
	}
	out, err := commandBus.Send(ctx, commands.CreateSessionCommand{Title: opts.Title, Participants: participants})
	if err != nil {
		return nil, err
	}
	sessionID := out.(*commands.SessionCreated).SessionID

	report := &replayReport{}
	for _, l := range lines {
		if l.Timestamp.IsZero() {
			l.Timestamp = clock.Advance(time.Second)
		} else if l.Timestamp.After(clock.Now()) {
			clock.Set(l.Timestamp)
		}
		_, err := commandBus.Send(ctx, commands.IngestMessageCommand{
			SessionID: sessionID,
			MessageID: l.ID,
			Author:    l.Author,
			Content:   l.Content,
			Timestamp: l.Timestamp,
			Platform:  l.Platform,
			Metadata:  l.Metadata,
		})
		if err != nil {
			logger.Warn("Message rejected", zap.Int("line", l.line), zap.String("messageID", l.ID), zap.Error(err))
			report.Rejected = append(report.Rejected, rejectedLine{Line: l.line, ID: l.ID, Reason: err.Error()})
		}
	}

	id, err := valueobjects.NewSessionIDFromString(sessionID)
	if err != nil {
		return nil, err
	}
	if err := settle(ctx, manager, clock, id); err != nil {
		return nil, err
	}
	if err := waitForPlan(ctx, queryBus, sessionID, opts.Wait); err != nil {
		return nil, err
	}
	return collect(ctx, queryBus, sessionID, report)
}

// settle runs a re-evaluation that a cooldown deferred past the last message.
func settle(ctx context.Context, manager *services.SessionManager, clock *utils.FakeClock, id valueobjects.SessionID) error {
	value, err := manager.View(ctx, id, func(s *aggregates.Session) (any, error) {
		return s.Consensus(), nil
	})
	if err != nil {
		return err
	}
	tracker := value.(entities.ConsensusTracker)
	if !tracker.PendingReeval {
		return nil
	}
	if tracker.CooldownUntil.After(clock.Now()) {
		clock.Set(tracker.CooldownUntil)
	}
	_, err = manager.Execute(ctx, id, func(_ context.Context, s *aggregates.Session) (any, error) {
		return manager.Pipeline().Reevaluate(s, ""), nil
	})
	return err
}

func waitForPlan(ctx context.Context, queryBus *querybus.QueryBus, sessionID string, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		out, err := queryBus.Ask(ctx, queries.GetPlanQuery{SessionID: sessionID})
		if err != nil {
			return err
		}
		if out.(*queries.PlanResult).State != aggregates.PlanPending || !time.Now().Before(deadline) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func collect(ctx context.Context, queryBus *querybus.QueryBus, sessionID string, report *replayReport) (*replayReport, error) {
	out, err := queryBus.Ask(ctx, queries.GetSessionQuery{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	report.Session = out.(*queries.SessionSummary)

	if out, err = queryBus.Ask(ctx, queries.ListIdeasQuery{SessionID: sessionID}); err != nil {
		return nil, err
	}
	report.Ideas = out.([]queries.IdeaSummary)

	if out, err = queryBus.Ask(ctx, queries.GetConsensusQuery{SessionID: sessionID}); err != nil {
		return nil, err
	}
	report.Consensus = out.(entities.ConsensusTracker)

	if out, err = queryBus.Ask(ctx, queries.GetPlanQuery{SessionID: sessionID}); err != nil {
		return nil, err
	}
	report.Plan = out.(*queries.PlanResult)
	return report, nil
}

func writeReport(w io.Writer, report *replayReport, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	s := report.Session
	fmt.Fprintf(w, "Session %s (%s)\n", s.ID, s.Title)
	fmt.Fprintf(w, "  messages: %d  ideas: %d  clusters: %d  rejected: %d\n", s.MessageCount, s.IdeaCount, s.ClusterCount, len(report.Rejected))
	fmt.Fprintf(w, "  mode: %s  consensus: %s\n", s.Mode, report.Consensus.State)

	cur := report.Consensus.Current
	if cur.Detected {
		fmt.Fprintf(w, "\nConsensus on %s (%s, %.0f%% of %d active)\n", cur.IdeaID, cur.Type, cur.SupportPercentage, cur.ActiveParticipants)
		for _, idea := range report.Ideas {
			if idea.ID == cur.IdeaID {
				fmt.Fprintf(w, "  %q\n", idea.Content)
			}
		}
	} else if len(report.Consensus.TieCandidates) > 0 {
		fmt.Fprintf(w, "\nTie between %v\n", report.Consensus.TieCandidates)
	}

	plan := report.Plan
	fmt.Fprintf(w, "\nPlan: %s\n", plan.State)
	if plan.Plan == nil {
		return nil
	}
	p := plan.Plan
	if p.Problem != nil {
		fmt.Fprintf(w, "  problem: %s\n", p.Problem.Summary)
	}
	for _, f := range p.Features {
		fmt.Fprintf(w, "  [%s] %s\n", f.Priority, f.Name)
		for _, t := range p.TasksForFeature(f.ID) {
			fmt.Fprintf(w, "      - %s (%s)\n", t.Title, t.Effort)
		}
	}
	if p.Timeline != nil {
		fmt.Fprintf(w, "  critical path: %.1f days, total %.1f days\n", p.Timeline.CriticalPathDays, p.Timeline.TotalDurationDays)
	}
	if p.Incomplete {
		fmt.Fprintf(w, "  incomplete, missing: %s\n", strings.Join(p.MissingSections, ", "))
	}
	return nil
}
