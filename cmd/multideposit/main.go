// Точка входа multideposit — разделение пакета депозитов на отдельные
// депозиты в формате bag.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rkruithof/easy-split-multi-deposit/internal/batch"
)

func main() {
	os.Exit(execute(os.Args[1:]))
}

// execute выполняет команду и возвращает код завершения процесса.
func execute(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(os.Stdout)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return batch.ExitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(os.Stderr, ee.err)
		}
		return ee.code
	}
	// Ошибки cobra: неизвестная команда, неверные флаги
	fmt.Fprintln(os.Stderr, err)
	return batch.ExitConfig
}

// exitError — ошибка команды с кодом завершения.
// err == nil означает, что итог уже выведен в отчёте.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("код завершения %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }
