// Command redfish-mstor-dump opens a metadata store read-only and
// prints every node record, for offline inspection after a daemon has
// been stopped.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/redfish/redfish/mstor"
)

func main() {
	dbPath := flag.String("path", "", "Path to the mstor database file")
	flag.Parse()
	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: redfish-mstor-dump -path <mstor.db>")
		os.Exit(2)
	}

	store, err := mstor.Open(*dbPath, false, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redfish-mstor-dump: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	entries, err := store.Dump()
	if err != nil {
		fmt.Fprintf(os.Stderr, "redfish-mstor-dump: %v\n", err)
		os.Exit(1)
	}

	for _, e := range entries {
		kind := "file"
		if e.Node.IsDir() {
			kind = "dir"
		}
		fmt.Printf("nid=%d kind=%-4s mode=%#o owner=%s group=%s mtime=%d atime=%d\n",
			e.Nid, kind, e.Node.ModeAndType&0o7777, e.Node.Owner, e.Node.Group, e.Node.Mtime, e.Node.Atime)
	}
}
