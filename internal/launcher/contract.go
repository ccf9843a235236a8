package launcher

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"scene-forge/internal/model"
)

var ErrPayloadRead = errors.New("payload read failure")

// Contract is the argv schema between the launcher and an engine process:
//
//	engine --kind image|video --payload PATH [--style S] [--ratio R]
//	       [--log-file L] [--ack-file A] [--config C]
//
// The positional form `engine <kind> <path> [style] [ratio]` is accepted too.
type Contract struct {
	Kind        model.EngineKind
	PayloadPath string
	Style       string
	Ratio       string
	LogFile     string
	AckFile     string
	ConfigPath  string
}

func (c Contract) Args() []string {
	args := []string{"engine", "--kind", string(c.Kind), "--payload", c.PayloadPath}
	if c.Kind == model.EngineVideo {
		if c.Style != "" {
			args = append(args, "--style", c.Style)
		}
		if c.Ratio != "" {
			args = append(args, "--ratio", c.Ratio)
		}
	}
	if c.LogFile != "" {
		args = append(args, "--log-file", c.LogFile)
	}
	if c.AckFile != "" {
		args = append(args, "--ack-file", c.AckFile)
	}
	if c.ConfigPath != "" {
		args = append(args, "--config", c.ConfigPath)
	}
	return args
}

// ParseContract reads the arguments following the "engine" subcommand. On
// error the returned contract still carries whatever log, ack and config
// paths were parsed so the failure can be reported and held.
func ParseContract(args []string, output io.Writer) (Contract, error) {
	fs := flag.NewFlagSet("engine", flag.ContinueOnError)
	kind := fs.String("kind", "", "engine kind: image|video")
	payload := fs.String("payload", "", "payload file path")
	style := fs.String("style", "", "video style label")
	ratio := fs.String("ratio", "", "video aspect ratio")
	logFile := fs.String("log-file", "", "engine log file")
	ackFile := fs.String("ack-file", "", "sentinel file that releases an error hold")
	configPath := fs.String("config", "", "config file path")
	if output != nil {
		fs.SetOutput(output)
	}
	reporting := func() Contract {
		return Contract{
			LogFile:    strings.TrimSpace(*logFile),
			AckFile:    strings.TrimSpace(*ackFile),
			ConfigPath: strings.TrimSpace(*configPath),
		}
	}
	if err := fs.Parse(args); err != nil {
		return reporting(), err
	}

	rest := fs.Args()
	positional := func(i int) string {
		if i < len(rest) {
			return strings.TrimSpace(rest[i])
		}
		return ""
	}
	rawKind := strings.TrimSpace(*kind)
	path := strings.TrimSpace(*payload)
	st := strings.TrimSpace(*style)
	ra := strings.TrimSpace(*ratio)
	if rawKind == "" {
		rawKind, path = positional(0), firstNonEmpty(path, positional(1))
		st, ra = firstNonEmpty(st, positional(2)), firstNonEmpty(ra, positional(3))
	}

	k, err := model.ParseEngineKind(rawKind)
	if err != nil {
		return reporting(), err
	}
	if path == "" {
		return reporting(), errors.New("payload file path is required")
	}
	job := model.Job{Kind: k, Style: st, Ratio: ra}.WithDefaults()
	return Contract{
		Kind:        k,
		PayloadPath: path,
		Style:       job.Style,
		Ratio:       job.Ratio,
		LogFile:     strings.TrimSpace(*logFile),
		AckFile:     strings.TrimSpace(*ackFile),
		ConfigPath:  strings.TrimSpace(*configPath),
	}, nil
}

// ReadPayload loads the payload file. Every failure wraps ErrPayloadRead.
func ReadPayload(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPayloadRead, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %s is not valid UTF-8", ErrPayloadRead, path)
	}
	text := strings.TrimPrefix(string(data), "\ufeff")
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrPayloadRead, path)
	}
	return text, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
