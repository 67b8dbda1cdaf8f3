package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"Stepwise-Agent/internal/config"
	"Stepwise-Agent/internal/monitor"
)

// main 跟随运行日志并刷新状态视图，直到收到中断信号。
func main() {
	path := flag.String("journal", "", "运行日志路径，默认读取配置中的 journal.path")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *path); err != nil {
		log.Fatalf("stepwise-monitor 运行失败: %v", err)
	}
}

func run(ctx context.Context, journalPath string) error {
	if journalPath == "" {
		cfg, err := config.Load(config.Path())
		if err != nil {
			return err
		}
		journalPath = cfg.Journal.Path
	}

	state := monitor.NewState()
	draw := func() {
		width, height, err := term.GetSize(int(os.Stdout.Fd()))
		if err != nil {
			width, height = 80, 24
		}
		// 清屏后从左上角重绘。
		fmt.Print("\x1b[H\x1b[2J")
		fmt.Println(monitor.Render(state, width, height-1))
	}

	draw()

	return monitor.Follow(ctx, journalPath, func(lines []string) {
		state.Apply(lines...)
		draw()
	})
}
