package cli

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"scene-forge/internal/config"
	"scene-forge/internal/console"
	"scene-forge/internal/runstore"
)

type initResult struct {
	ConfigPath    string       `json:"config_path"`
	CreatedConfig bool         `json:"created_config"`
	Dirs          []string     `json:"dirs"`
	DoctorResult  doctorResult `json:"doctor"`
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultPath, "config file path")
	backend := fs.String("ledger", "", "ledger backend for a new config: sheets|csv")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := strings.TrimSpace(*configPath)
	if path == "" {
		path = config.DefaultPath
	}

	res := initResult{ConfigPath: path}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := config.Default()
		if strings.TrimSpace(*backend) != "" {
			cfg.Ledger.Backend = *backend
		}
		if err := config.Save(path, cfg); err != nil {
			return err
		}
		res.CreatedConfig = true
	} else if err != nil {
		return err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	for _, dir := range []string{cfg.SessionsDir, cfg.Launcher.PayloadDir, cfg.Launcher.LogDir} {
		if err := runstore.Mkdir(dir); err != nil {
			return err
		}
		res.Dirs = append(res.Dirs, dir)
	}
	res.DoctorResult = doctor(cfg)

	if *jsonOut {
		return printJSON(res)
	}
	fmt.Println("workspace initialized")
	fmt.Printf("config: %s\n", res.ConfigPath)
	fmt.Printf("created_config: %t\n", res.CreatedConfig)
	fmt.Println("checks:")
	printChecks("  ", res.DoctorResult)
	if !res.DoctorResult.OK {
		return errors.New("doctor checks failed")
	}
	fmt.Println("next: scene-forge login --site image && scene-forge login --site video")
	return nil
}

func runDoctor(args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultPath, "config file path")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	res := doctor(cfg)
	if *jsonOut {
		return printJSON(res)
	}
	printChecks("", res)
	if !res.OK {
		return errors.New("doctor checks failed")
	}
	fmt.Println(console.Success("doctor: all checks passed"))
	return nil
}

func runAck(args []string) error {
	fs := flag.NewFlagSet("ack", flag.ContinueOnError)
	file := fs.String("file", "", "ack file printed by the holding engine")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := strings.TrimSpace(*file)
	if path == "" && fs.NArg() > 0 {
		path = strings.TrimSpace(fs.Arg(0))
	}
	if path == "" {
		return errors.New("--file is required")
	}
	if err := runstore.Mkdir(filepath.Dir(path)); err != nil {
		return err
	}
	if err := console.Ack(path); err != nil {
		return err
	}
	fmt.Printf("acknowledged: %s\n", path)
	return nil
}

func printChecks(indent string, res doctorResult) {
	for _, c := range res.Checks {
		status := "ok"
		if !c.OK {
			status = "fail"
		}
		fmt.Printf("%s%s: %s (%s)\n", indent, c.Name, status, c.Message)
	}
}
