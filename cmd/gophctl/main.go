package main

import (
	"context"
	"os"

	"github.com/dmitrijs2005/gophdeobf/internal/client/cli"
)

func main() {

	if err := cli.NewApp().Run(context.Background(), os.Args[1:]); err != nil {
		os.Exit(1)
	}

}
