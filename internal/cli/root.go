package cli

import "fmt"

func Run(args []string) error {
	if len(args) == 0 {
		printRootUsage()
		return nil
	}

	switch args[0] {
	case "jobs":
		return runJobs(args[1:])
	case "batch":
		return runBatch(args[1:])
	case "maintenance":
		return runMaintenance(args[1:])
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		printRootUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage() {
	fmt.Println("podctl: operate the podscribe transcription backend")
	fmt.Println()
	fmt.Println("Jobs:")
	fmt.Println("  jobs status [--batch <id>] [--status <s>] [--limit <n>] [--json]")
	fmt.Println()
	fmt.Println("Batches:")
	fmt.Println("  batch start|pause|resume|cancel|retry|reconcile <id>")
	fmt.Println("  batch watch <id>      live progress until the batch finishes")
	fmt.Println()
	fmt.Println("Maintenance (runs in-process against the database):")
	fmt.Println("  maintenance cleanup-audio")
	fmt.Println("  maintenance channel-stats")
	fmt.Println("  maintenance reindex <episode-id>")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  PODSCRIBE_API_URL     API base URL (default http://localhost:8080)")
}
