// vtnctl is the remote CLI client for vtnd.
//
// It connects to the vtnd gRPC API. Without arguments it starts an
// interactive shell; otherwise it runs the given command and exits:
//
//	vtnctl show flow-filter tenant t1
//	vtnctl test flow-filter tenant t1 vbridge vb1 interface if1 dst-ip 192.0.2.1
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/psaab/vtnflow/pkg/api"
	"github.com/psaab/vtnflow/pkg/grpcapi"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:50051", "vtnd gRPC address")
	timeout := flag.Duration("timeout", 5*time.Second, "per-request timeout")
	flag.Parse()

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "vtnctl: connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	c := newCtl(grpcapi.NewClient(conn), os.Stdout)
	c.timeout = *timeout

	if flag.NArg() > 0 {
		if err := c.dispatch(strings.Join(quoteArgs(flag.Args()), " ")); err != nil && err != errExit {
			fmt.Fprintf(os.Stderr, "vtnctl: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	out, err := c.client.Status(ctx, &structpb.Struct{})
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "vtnctl: cannot reach vtnd at %s: %v\n", *addr, err)
		os.Exit(1)
	}
	var st api.StatusResponse
	if err := grpcapi.Decode(out, &st); err != nil {
		fmt.Fprintf(os.Stderr, "vtnctl: %v\n", err)
		os.Exit(1)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          c.prompt(),
		HistoryFile:     "/tmp/vtnctl_history",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    &remoteCompleter{ctl: c},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "vtnctl: readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()
	c.out = rl.Stdout()

	fmt.Fprintf(c.out, "vtnctl - connected to vtnd (uptime: %s, generation %d)\n", st.Uptime, st.Generation)
	fmt.Fprintln(c.out, "Type '?' for help")
	fmt.Fprintln(c.out)

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err != io.EOF {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
			break
		}
		if err := c.dispatch(line); err != nil {
			if err == errExit {
				break
			}
			fmt.Fprintf(rl.Stderr(), "error: %v\n", err)
		}
		rl.SetPrompt(c.prompt())
	}
	if len(c.pending) > 0 {
		fmt.Fprintln(os.Stderr, "warning: uncommitted changes discarded")
	}
}

// quoteArgs re-quotes shell arguments that contain blanks.
func quoteArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if a == "" || strings.ContainsAny(a, " \t") {
			a = fmt.Sprintf("%q", a)
		}
		out[i] = a
	}
	return out
}
