// Command driftctl talks to a running drift coordinator.
//
// Usage:
//
//	driftctl [-addr URL] [-timeout D] <command> [args]
//
// Commands:
//
//	get <name>                     read a file from one replica
//	put <name> <value> <version>   write a file
//	files                          list file names
//	members <name>                 show a file's origin and replica nodes
//	locations                      show every file's replicas
//	nodes                          show node counters
//	flush                          drop all files and metadata
//	balance read|server            run a rebalancing pass now
//
// The coordinator address defaults to DRIFT_URL, then http://localhost:8080.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/dreamware/drift/internal/cluster"
)

var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("driftctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", getenv("DRIFT_URL", "http://localhost:8080"), "coordinator base URL")
	timeout := fs.Duration("timeout", 10*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := &client{base: strings.TrimRight(*addr, "/"), out: stdout}
	if err := c.dispatch(ctx, fs.Args()); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(stderr, err)
			fs.Usage()
			return 2
		}
		fmt.Fprintln(stderr, "driftctl:", err)
		return 1
	}
	return 0
}

type client struct {
	out  io.Writer
	base string
}

func usagef(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errUsage}, args...)...)
}

func (c *client) dispatch(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usagef("missing command")
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "get":
		if len(rest) != 1 {
			return usagef("get <name>")
		}
		return c.get(ctx, rest[0])
	case "put":
		if len(rest) != 3 {
			return usagef("put <name> <value> <version>")
		}
		version, err := strconv.Atoi(rest[2])
		if err != nil {
			return usagef("version must be an integer, got %q", rest[2])
		}
		return c.put(ctx, rest[0], rest[1], version)
	case "files":
		return c.files(ctx)
	case "members":
		if len(rest) != 1 {
			return usagef("members <name>")
		}
		return c.members(ctx, rest[0])
	case "locations":
		return c.locations(ctx)
	case "nodes":
		return c.nodes(ctx)
	case "flush":
		if err := cluster.PostJSON(ctx, c.base+"/admin/flush", nil, nil); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "flushed")
		return nil
	case "balance":
		if len(rest) != 1 {
			return usagef("balance read|server")
		}
		switch rest[0] {
		case "read":
			return c.balanceRead(ctx)
		case "server":
			return c.balanceServer(ctx)
		}
		return usagef("unknown balance pass %q", rest[0])
	}
	return usagef("unknown command %q", cmd)
}

func (c *client) fileURL(name string) string {
	return c.base + "/files/" + url.PathEscape(name)
}

func (c *client) printFile(f cluster.FileResponse) error {
	table := tablewriter.NewWriter(c.out)
	table.Header([]string{"File", "Version", "Value", "Values", "Conflict"})
	if err := table.Append([]string{
		f.Name,
		strconv.Itoa(f.Version),
		f.Value,
		strings.Join(f.Values, ","),
		strconv.FormatBool(f.Conflict),
	}); err != nil {
		return err
	}
	return table.Render()
}

func (c *client) get(ctx context.Context, name string) error {
	var f cluster.FileResponse
	if err := cluster.GetJSON(ctx, c.fileURL(name), &f); err != nil {
		return err
	}
	return c.printFile(f)
}

func (c *client) put(ctx context.Context, name, value string, version int) error {
	var f cluster.FileResponse
	if err := cluster.PutJSON(ctx, c.fileURL(name), cluster.WriteRequest{Value: value, Version: version}, &f); err != nil {
		return err
	}
	return c.printFile(f)
}

func (c *client) files(ctx context.Context) error {
	var resp cluster.FilesResponse
	if err := cluster.GetJSON(ctx, c.base+"/admin/files", &resp); err != nil {
		return err
	}
	for _, name := range resp.Files {
		fmt.Fprintln(c.out, name)
	}
	return nil
}

func (c *client) members(ctx context.Context, name string) error {
	var resp cluster.MembershipResponse
	if err := cluster.GetJSON(ctx, c.base+"/admin/files/"+url.PathEscape(name), &resp); err != nil {
		return err
	}
	table := tablewriter.NewWriter(c.out)
	table.Header([]string{"File", "Origin", "Members"})
	if err := table.Append([]string{resp.Name, strconv.Itoa(resp.Origin), joinInts(resp.Members)}); err != nil {
		return err
	}
	return table.Render()
}

func (c *client) locations(ctx context.Context) error {
	var resp cluster.LocationsResponse
	if err := cluster.GetJSON(ctx, c.base+"/admin/filelocations", &resp); err != nil {
		return err
	}
	table := tablewriter.NewWriter(c.out)
	table.Header([]string{"File", "Origin", "Node", "Version", "Value", "Values"})
	for _, f := range resp.Files {
		for _, r := range f.Replicas {
			row := []string{f.Name, strconv.Itoa(f.Origin), strconv.Itoa(r.Node), strconv.Itoa(r.Version), r.Value, strings.Join(r.Values, ",")}
			if r.Error != "" {
				row[3], row[4], row[5] = "-", "error: "+r.Error, ""
			}
			if err := table.Append(row); err != nil {
				return err
			}
		}
	}
	return table.Render()
}

func (c *client) nodes(ctx context.Context) error {
	var resp cluster.NodesResponse
	if err := cluster.GetJSON(ctx, c.base+"/admin/nodes", &resp); err != nil {
		return err
	}
	table := tablewriter.NewWriter(c.out)
	table.Header([]string{"Node", "Available", "Files", "Conflicts", "Reads", "Writes", "Replicas", "Deletes", "Dropped"})
	for _, n := range resp.Nodes {
		if err := table.Append([]string{
			strconv.Itoa(n.ID),
			strconv.FormatBool(n.Available),
			strconv.Itoa(n.Files),
			strconv.Itoa(n.Conflicts),
			strconv.FormatUint(n.Reads, 10),
			strconv.FormatUint(n.Writes, 10),
			strconv.FormatUint(n.Replicas, 10),
			strconv.FormatUint(n.Deletes, 10),
			strconv.FormatUint(n.Dropped, 10),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func joinInts(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

func (c *client) balanceRead(ctx context.Context) error {
	var resp cluster.ReadBalanceResponse
	if err := cluster.PostJSON(ctx, c.base+"/admin/balance/read", nil, &resp); err != nil {
		return err
	}
	if len(resp.Adjustments) == 0 {
		fmt.Fprintln(c.out, "no replica changes")
	} else {
		table := tablewriter.NewWriter(c.out)
		table.Header([]string{"File", "Reads", "Before", "Desired", "Added", "Removed"})
		for _, a := range resp.Adjustments {
			if err := table.Append([]string{
				a.File,
				strconv.Itoa(a.Reads),
				strconv.Itoa(a.Before),
				strconv.Itoa(a.Desired),
				joinInts(a.Added),
				joinInts(a.Removed),
			}); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}
	}
	if resp.Error != "" {
		return fmt.Errorf("read balance incomplete: %s", resp.Error)
	}
	return nil
}

func (c *client) balanceServer(ctx context.Context) error {
	var resp cluster.ServerBalanceResponse
	if err := cluster.PostJSON(ctx, c.base+"/admin/balance/server", nil, &resp); err != nil {
		return err
	}
	if !resp.Moved {
		fmt.Fprintf(c.out, "nothing moved (busiest %d, least busy %d)\n", resp.From, resp.To)
		return nil
	}
	fmt.Fprintf(c.out, "moved %s from node %d (load %d) to node %d (load %d)\n",
		resp.File, resp.From, resp.FromLoad, resp.To, resp.ToLoad)
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
