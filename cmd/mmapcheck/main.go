// Copyright 2013 The mmtrie Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mmapcheck walks every trie in a region file, reporting node
// counts and any integrity errors it finds, with an optional --recover
// pass that drops undecodable subtrees so the rest of the region stays
// usable.
package main

import (
	"fmt"
	"os"

	"github.com/cznic/mmtrie"
	"github.com/spf13/cobra"
)

func main() {
	var (
		minID   int
		maxID   int
		verbose bool
		recover bool
	)

	rootCmd := &cobra.Command{
		Use:   "mmapcheck <region-file>",
		Short: "Verify (and optionally repair) an mmtrie region file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			eng, err := mmtrie.Open(path, mmtrie.Options{
				Mode: mmtrie.ResOpen,
				Perm: mmtrie.PermReadWrite,
			})
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			defer eng.Close()

			checker := mmtrie.NewChecker(eng.Tries, eng.Store)
			rep := checker.Run(mmtrie.CheckerOptions{
				MinID:   minID,
				MaxID:   maxID,
				Recover: recover,
			})

			fmt.Printf("tries checked: %d\n", rep.TriesChecked)
			fmt.Printf("entries total: %d\n", rep.EntriesTotal)
			if verbose {
				for typ, n := range rep.NodesByType {
					if n == 0 {
						continue
					}
					fmt.Printf("  %-22s %d\n", mmtrie.NodeType(typ), n)
				}
			}
			fmt.Printf("errors: %d\n", len(rep.Errors))
			for _, e := range rep.Errors {
				fmt.Printf("  %v\n", e)
			}

			if recover && len(rep.Errors) > 0 {
				repairer := mmtrie.NewRepairer(eng.Tries, eng.Store)
				for id := minID; id <= maxID; id++ {
					kept, dropped, err := repairer.Repair(id)
					if err != nil {
						fmt.Printf("trie %d: repair failed: %v\n", id, err)
						continue
					}
					if kept > 0 || dropped > 0 {
						fmt.Printf("trie %d: kept %d entries, dropped %d subtrees\n", id, kept, dropped)
					}
				}
			}

			if len(rep.Errors) > 0 && !recover {
				return fmt.Errorf("%d integrity error(s) found; rerun with --recover to repair", len(rep.Errors))
			}
			return nil
		},
	}

	rootCmd.Flags().IntVar(&minID, "min-id", 0, "lowest trie id to check")
	rootCmd.Flags().IntVar(&maxID, "max-id", mmtrie.MaxTrieId-1, "highest trie id to check")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print a per-node-type breakdown")
	rootCmd.Flags().BoolVar(&recover, "recover", false, "drop undecodable subtrees instead of just reporting them")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mmapcheck:", err)
		os.Exit(1)
	}
}
