package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

var batchActions = map[string]bool{
	"start":     true,
	"pause":     true,
	"resume":    true,
	"cancel":    true,
	"retry":     true,
	"reconcile": true,
}

func runBatch(args []string) error {
	if len(args) == 0 {
		printBatchUsage()
		return nil
	}
	action := strings.ToLower(strings.TrimSpace(args[0]))
	if action == "watch" {
		return runBatchWatch(args[1:])
	}
	if !batchActions[action] {
		printBatchUsage()
		return fmt.Errorf("unknown batch command %q", args[0])
	}
	id, err := parseIDArg(args[1:], "batch")
	if err != nil {
		return err
	}
	out, err := apiClientFromEnv().BatchAction(context.Background(), id, action)
	if err != nil {
		return err
	}
	return printJSON(out)
}

func printBatchUsage() {
	actions := make([]string, 0, len(batchActions))
	for a := range batchActions {
		actions = append(actions, a)
	}
	sort.Strings(actions)
	fmt.Printf("usage: podctl batch {%s} <id>\n", strings.Join(actions, "|"))
	fmt.Println("       podctl batch watch <id>")
}
