package cli

import "fmt"

func Run(args []string) error {
	if len(args) == 0 {
		printRootUsage()
		return nil
	}

	switch args[0] {
	case "engine":
		return runEngine(args[1:])
	case "launch":
		return runLaunch(args[1:])
	case "login":
		return runLogin(args[1:])
	case "ack":
		return runAck(args[1:])
	case "queue":
		return runQueue(args[1:])
	case "script":
		return runScript(args[1:])
	case "init":
		return runInit(args[1:])
	case "doctor":
		return runDoctor(args[1:])
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		printRootUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage() {
	fmt.Println("scene-forge: drive image and video services from an approved script")
	fmt.Println()
	fmt.Println("Quick Start:")
	fmt.Println("  scene-forge init")
	fmt.Println("  scene-forge login --site image")
	fmt.Println("  scene-forge script import --file out.json --publish")
	fmt.Println("  scene-forge launch --next")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init      create config + run environment checks")
	fmt.Println("  doctor    run dependency and filesystem preflight checks")
	fmt.Println("  login     open a site and save the session after a manual login")
	fmt.Println("  script    import generator output and align narration with prompts")
	fmt.Println("  queue     inspect and update the production ledger")
	fmt.Println("  launch    start the image and video engines for a row or payload files")
	fmt.Println("  ack       release an engine holding on an error")
	fmt.Println()
	fmt.Println("Internal:")
	fmt.Println("  engine    run one engine: engine --kind image|video --payload PATH")
	fmt.Println()
	fmt.Println("Notes:")
	fmt.Println("  - Use --json on commands for machine-readable output")
	fmt.Println("  - Sessions are stored per site under sessions_dir; run login again when one expires")
}
