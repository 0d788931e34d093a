/*
main.go

jenkins-node-ssh creates or reconfigures an SSH-launched agent node on a
Jenkins coordinator and waits for it to come online.
*/
package main

import (
	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/cmd"
	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/logger"
)

func main() {
	logger.InitializeWithFallback()
	cmd.Execute()
}
