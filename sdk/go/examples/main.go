package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"CeleryPulse/sdk/go/celerypulse"
)

// 查询运行中的 celerypulsed 并打印队列积压。
func main() {
	addr := flag.String("addr", "http://127.0.0.1:9808", "celerypulsed 管理端口地址")
	flag.Parse()

	client, err := celerypulse.NewClient(*addr, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Healthz(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
		os.Exit(1)
	}
	st, err := client.Status(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("connected=%v workers=%d tracked=%d backlog=%d\n", st.Connected, st.Workers, st.TrackedTasks, st.Backlog())
	for _, q := range st.Queues {
		fmt.Printf("  %-24s %d\n", q.Name, q.Depth)
	}
	if st.LastCycleError != "" {
		fmt.Printf("last cycle error: %s\n", st.LastCycleError)
	}
}
