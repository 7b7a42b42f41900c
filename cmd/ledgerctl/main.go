// Command ledgerctl inspects a ledger store from the command line. It is
// read-only: every subcommand opens the store, answers one query, and
// exits. There is no "add-block" command — writing blocks is a library
// operation for the process that produces them, not something a human
// operator should do from a CLI.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/nbnode/ledgerstore/ledger"
	gofs "github.com/nbnode/ledgerstore/pkg/fs"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, out, errOut io.Writer) int {
	globalFlags := flag.NewFlagSet("ledgerctl", flag.ContinueOnError)
	globalFlags.SetInterspersed(false)
	globalFlags.Usage = func() {}
	globalFlags.SetOutput(io.Discard)

	baseDir := globalFlags.StringP("base-dir", "d", "", "ledger base directory (required)")
	verbose := globalFlags.BoolP("verbose", "v", false, "log diagnostic events to stderr")

	if err := globalFlags.Parse(args[1:]); err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	commandAndArgs := globalFlags.Args()

	if len(commandAndArgs) == 0 {
		printUsage(out)

		return 0
	}

	if *baseDir == "" {
		fmt.Fprintln(errOut, "error: --base-dir is required")

		return 1
	}

	logger := zap.NewNop()

	if *verbose {
		built, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintln(errOut, "error: building logger:", err)

			return 1
		}

		logger = built
	}

	workDir, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(errOut, "error: getwd:", err)

		return 1
	}

	fileCfg, err := loadFileConfig(workDir)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	opts := fileCfg.applyTo(ledger.DefaultOptions(*baseDir))
	opts.Logger = logger

	l, err := ledger.Open(gofs.NewReal(), opts)
	if err != nil {
		fmt.Fprintln(errOut, "error: opening ledger:", err)

		return 1
	}

	cmdName := commandAndArgs[0]
	cmdArgs := commandAndArgs[1:]

	switch cmdName {
	case "info":
		return cmdInfo(l, out, errOut)
	case "block":
		return cmdBlock(l, cmdArgs, out, errOut)
	case "state":
		return cmdState(l, cmdArgs, out, errOut)
	case "validator":
		return cmdValidator(l, cmdArgs, out, errOut)
	case "node":
		return cmdNode(l, cmdArgs, out, errOut)
	default:
		fmt.Fprintln(errOut, "error: unknown command:", cmdName)
		printUsage(errOut)

		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: ledgerctl --base-dir DIR <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  info                       print the last block number")
	fmt.Fprintln(w, "  block <n>                  print block n")
	fmt.Fprintln(w, "  state <n>                  print account states as of block n")
	fmt.Fprintln(w, "  validator <n>              print the primary validator at block n")
	fmt.Fprintln(w, "  node <identifier> <n>      print the node registered under <identifier> as of block n")
}

func cmdInfo(l *ledger.Ledger, out, errOut io.Writer) int {
	last, err := l.GetLastBlockNumber()
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	if last == nil {
		fmt.Fprintln(out, "empty ledger")

		return 0
	}

	fmt.Fprintf(out, "last_block_number: %d\n", *last)

	return 0
}

func cmdBlock(l *ledger.Ledger, args []string, out, errOut io.Writer) int {
	n, err := parseBlockNumberArg(args, "block")
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	block, err := l.GetBlockByNumber(n)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	if block == nil {
		fmt.Fprintf(out, "block %d not found\n", n)

		return 0
	}

	fmt.Fprintf(out, "block_number: %d\ntimestamp: %s\nhash: %s\naccounts_touched: %d\n",
		block.BlockNumber, block.Timestamp, block.Hash, len(block.UpdatedAccountStates))

	return 0
}

func cmdState(l *ledger.Ledger, args []string, out, errOut io.Writer) int {
	n, err := parseBlockNumberArg(args, "state")
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	count := 0

	err = l.YieldAccountStates(n, func(id ledger.AccountID, state ledger.AccountState) (bool, error) {
		fmt.Fprintf(out, "%s: balance=%d\n", id, state.Balance)
		count++

		return true, nil
	})
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	fmt.Fprintf(out, "accounts: %d\n", count)

	return 0
}

func cmdValidator(l *ledger.Ledger, args []string, out, errOut io.Writer) int {
	n, err := parseBlockNumberArg(args, "validator")
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	account, ok, err := l.GetPrimaryValidator(n)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	if !ok {
		fmt.Fprintf(out, "no primary validator at block %d\n", n)

		return 0
	}

	fmt.Fprintln(out, account.String())

	return 0
}

func cmdNode(l *ledger.Ledger, args []string, out, errOut io.Writer) int {
	if len(args) != 2 {
		fmt.Fprintln(errOut, "error: node requires <identifier> <n>")

		return 1
	}

	identifier, err := uuid.Parse(args[0])
	if err != nil {
		fmt.Fprintln(errOut, "error: invalid node identifier:", err)

		return 1
	}

	n, err := parseBlockNumberArg(args[1:], "node")
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	node, err := l.GetNodeByIdentifier(identifier, n)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	if node == nil {
		fmt.Fprintf(out, "node %s not found at block %d\n", identifier, n)

		return 0
	}

	addrs := make([]string, len(node.NetworkAddresses))
	for i, addr := range node.NetworkAddresses {
		addrs[i] = string(addr)
	}

	fmt.Fprintf(out, "identifier: %s\naddresses: %s\nfee_amount: %d\nfee_account: %s\n",
		node.Identifier, strings.Join(addrs, ","), node.FeeAmount, node.FeeAccount)

	return 0
}

func parseBlockNumberArg(args []string, command string) (uint64, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("%s requires a block number argument", command)
	}

	var n uint64
	if _, err := fmt.Sscanf(args[0], "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid block number %q: %w", args[0], err)
	}

	return n, nil
}
