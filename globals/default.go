package globals

import "github.com/hashicorp/go-hclog"

var AppLogger = hclog.New(&hclog.LoggerOptions{
	Name:  "sahyog-relay",
	Level: hclog.LevelFromString("INFO"),
})
