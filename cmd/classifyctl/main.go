package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/classifyd/internal/ctl"
	"github.com/dmitrijs2005/classifyd/internal/server"
	"github.com/dmitrijs2005/classifyd/internal/server/config"
)

func main() {
	cfg := config.LoadBaseConfig()

	cli := ctl.New(func(ctx context.Context) (ctl.Operator, error) {
		app, err := server.NewApp(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return app, nil
	})

	if err := cli.Command().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "classifyctl:", err)
		os.Exit(1)
	}
}
