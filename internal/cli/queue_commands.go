package cli

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"scene-forge/internal/config"
	"scene-forge/internal/launcher"
	"scene-forge/internal/model"
	"scene-forge/internal/queue"
)

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func runQueue(args []string) error {
	if len(args) == 0 {
		printQueueUsage()
		return nil
	}
	switch args[0] {
	case "next":
		return runQueueNext(args[1:])
	case "list":
		return runQueueList(args[1:])
	case "show":
		return runQueueShow(args[1:])
	case "add":
		return runQueueAdd(args[1:])
	case "publish":
		return runQueuePublish(args[1:])
	case "complete":
		return runQueueComplete(args[1:])
	case "help", "-h", "--help":
		printQueueUsage()
		return nil
	default:
		printQueueUsage()
		return fmt.Errorf("unknown queue subcommand %q", args[0])
	}
}

type queueFlags struct {
	fs         *flag.FlagSet
	configPath *string
	jsonOut    *bool
}

func newQueueFlags(name string) queueFlags {
	fs := flag.NewFlagSet("queue "+name, flag.ContinueOnError)
	qf := queueFlags{
		fs:         fs,
		configPath: fs.String("config", config.DefaultPath, "config file path"),
		jsonOut:    fs.Bool("json", false, "print JSON output"),
	}
	fs.SetOutput(flag.CommandLine.Output())
	return qf
}

func (qf queueFlags) open(ctx context.Context) (*queue.Queue, error) {
	cfg, err := config.Load(*qf.configPath)
	if err != nil {
		return nil, err
	}
	return openQueue(ctx, cfg, commandLogger(false))
}

func runQueueNext(args []string) error {
	qf := newQueueFlags("next")
	if err := qf.fs.Parse(args); err != nil {
		return err
	}
	ctx := context.Background()
	q, err := qf.open(ctx)
	if err != nil {
		return err
	}
	rec, err := q.NextUnprocessed(ctx)
	if errors.Is(err, queue.ErrNoUnprocessed) {
		if *qf.jsonOut {
			return printJSON(map[string]any{"found": false})
		}
		fmt.Println("queue: nothing left to process")
		return nil
	}
	if err != nil {
		return err
	}
	if *qf.jsonOut {
		return printJSON(map[string]any{"found": true, "record": rec})
	}
	printRecord(rec)
	return nil
}

func runQueueList(args []string) error {
	qf := newQueueFlags("list")
	state := qf.fs.String("state", "", "only rows in this state: unprocessed|scripted|completed")
	if err := qf.fs.Parse(args); err != nil {
		return err
	}
	filter := strings.ToLower(strings.TrimSpace(*state))
	if filter != "" && !model.IsKnownState(filter) {
		return fmt.Errorf("unknown state %q", *state)
	}

	ctx := context.Background()
	q, err := qf.open(ctx)
	if err != nil {
		return err
	}
	records, err := q.List(ctx)
	if err != nil {
		return err
	}
	out := make([]model.Record, 0, len(records))
	for _, r := range records {
		if filter == "" || r.State == filter {
			out = append(out, r)
		}
	}
	if *qf.jsonOut {
		return printJSON(out)
	}
	if len(out) == 0 {
		fmt.Println("no rows")
		return nil
	}
	for _, r := range out {
		line := fmt.Sprintf("%4d  %-11s  %s", r.Row, r.State, r.Title)
		if r.CompletedOn != "" {
			line += "  (" + r.CompletedOn + ")"
		}
		fmt.Println(line)
	}
	return nil
}

func runQueueShow(args []string) error {
	qf := newQueueFlags("show")
	row := qf.fs.Int("row", 0, "ledger row number")
	if err := qf.fs.Parse(args); err != nil {
		return err
	}
	ctx := context.Background()
	q, err := qf.open(ctx)
	if err != nil {
		return err
	}
	rec, err := q.Record(ctx, *row)
	if err != nil {
		return err
	}
	if *qf.jsonOut {
		return printJSON(rec)
	}
	printRecord(rec)
	return nil
}

func runQueueAdd(args []string) error {
	qf := newQueueFlags("add")
	var titles stringList
	qf.fs.Var(&titles, "title", "title to append (repeatable)")
	file := qf.fs.String("file", "", "file with one title per line")
	if err := qf.fs.Parse(args); err != nil {
		return err
	}
	titles = append(titles, qf.fs.Args()...)
	if strings.TrimSpace(*file) != "" {
		lines, err := readLines(*file)
		if err != nil {
			return err
		}
		titles = append(titles, lines...)
	}
	if len(titles) == 0 {
		return errors.New("at least one --title or --file is required")
	}

	ctx := context.Background()
	q, err := qf.open(ctx)
	if err != nil {
		return err
	}
	added, err := q.AppendTitles(ctx, titles)
	if err != nil {
		return err
	}
	if *qf.jsonOut {
		return printJSON(map[string]any{"added": added, "skipped": len(titles) - len(added)})
	}
	fmt.Printf("added %d title(s), skipped %d already present\n", len(added), len(titles)-len(added))
	for _, t := range added {
		fmt.Printf("  + %s\n", t)
	}
	return nil
}

func runQueuePublish(args []string) error {
	qf := newQueueFlags("publish")
	title := qf.fs.String("title", "", "record title")
	scriptFile := qf.fs.String("script-file", "", "narration file")
	promptsFile := qf.fs.String("prompts-file", "", "image prompts file (one per line)")
	if err := qf.fs.Parse(args); err != nil {
		return err
	}
	t := strings.TrimSpace(*title)
	if t == "" {
		v, err := promptRequired("title")
		if err != nil {
			return err
		}
		t = v
	}
	if strings.TrimSpace(*scriptFile) == "" {
		return errors.New("--script-file is required")
	}
	script, err := launcher.ReadPayload(*scriptFile)
	if err != nil {
		return err
	}
	var prompts []string
	if strings.TrimSpace(*promptsFile) != "" {
		if prompts, err = readLines(*promptsFile); err != nil {
			return err
		}
	}

	ctx := context.Background()
	q, err := qf.open(ctx)
	if err != nil {
		return err
	}
	rec, err := q.Publish(ctx, t, script, prompts)
	if err != nil {
		return err
	}
	if *qf.jsonOut {
		return printJSON(rec)
	}
	fmt.Printf("published %q to row %d (%d prompt(s))\n", rec.Title, rec.Row, len(prompts))
	return nil
}

func runQueueComplete(args []string) error {
	qf := newQueueFlags("complete")
	row := qf.fs.Int("row", 0, "ledger row number")
	yes := qf.fs.Bool("yes", false, "skip confirmation")
	if err := qf.fs.Parse(args); err != nil {
		return err
	}
	ctx := context.Background()
	q, err := qf.open(ctx)
	if err != nil {
		return err
	}
	rec, err := q.Record(ctx, *row)
	if err != nil {
		return err
	}
	if !*yes {
		ok, err := promptConfirm(fmt.Sprintf("mark row %d (%s) completed? [y/N]: ", rec.Row, rec.Title))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("cancelled")
			return nil
		}
	}
	rec, err = q.MarkCompleted(ctx, rec.Row)
	if err != nil {
		return err
	}
	if *qf.jsonOut {
		return printJSON(rec)
	}
	fmt.Printf("row %d marked %s on %s\n", rec.Row, rec.Flag, rec.CompletedOn)
	return nil
}

func printRecord(rec model.Record) {
	fmt.Printf("row: %d\n", rec.Row)
	fmt.Printf("title: %s\n", rec.Title)
	fmt.Printf("state: %s\n", rec.State)
	if rec.CompletedOn != "" {
		fmt.Printf("completed_on: %s\n", rec.CompletedOn)
	}
	prompts := queue.SplitPrompts(rec.Prompts)
	fmt.Printf("prompts: %d\n", len(prompts))
	if rec.Script != "" {
		fmt.Println("script:")
		for _, line := range strings.Split(rec.Script, "\n") {
			fmt.Printf("  %s\n", line)
		}
	}
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	out := []string{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if v := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff")); v != "" {
			out = append(out, v)
		}
	}
	return out, sc.Err()
}

func printQueueUsage() {
	fmt.Println("scene-forge queue: production ledger")
	fmt.Println()
	fmt.Println("Subcommands:")
	fmt.Println("  next      show the next unprocessed row")
	fmt.Println("  list      list rows with their state [--state S]")
	fmt.Println("  show      show one row --row N")
	fmt.Println("  add       append titles --title T [--title T2] [--file titles.txt]")
	fmt.Println("  publish   write a script --title T --script-file F [--prompts-file P]")
	fmt.Println("  complete  mark a row completed --row N [--yes]")
}
