// Command cluvrp solves Clustered VRP instances from the command line and
// keeps the best-known ledger and solution files up to date.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
