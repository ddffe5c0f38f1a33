// Command stopfinder keeps a family's school-bus schedule fresh and serves
// the next pickup and drop-off for every student on the account.
//
//	stopfinder serve      run the refresh loop and the status API
//	stopfinder check      verify the credentials with a fresh login
//	stopfinder schedule   run one refresh and print the next trips
//	stopfinder migrate    apply run history migrations
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
