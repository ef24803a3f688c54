package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"medquote/internal/app"
	"medquote/internal/config"
	"medquote/internal/handler"
	"medquote/internal/service"
)

func main() {
	cfg := config.LoadConfig()
	ctx := context.Background()

	store, database, err := app.OpenSharedStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Error opening store: %v", err)
	}
	if database != nil {
		defer database.Close()
	}

	h := handler.New(service.NewOperatorService(service.Deps{Store: store}), os.Stdout)
	fmt.Println("Operator console. Type 'help' for the list of commands.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		err := h.Execute(ctx, fields[0], fields[1:])
		if errors.Is(err, handler.ErrExit) {
			return
		}
		if err != nil {
			fmt.Println("Error:", err)
		}
	}
}
