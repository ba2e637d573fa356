/*
flag Package set up cli flags shared across services

Usage:

	Flags listed in this package are shared across boundaries and service-agnostic
	For service dependent flags please define in their respective package
*/

package flag

import (
	"flag"
)

const (
	APIServer       = "api_server"
	FeedDistributor = "feed_distributor"
	FeedMaintenance = "feed_maintenance"
)

var (
	IsDevelopment bool
	ServiceName   string
	ByPassAuth    bool
	AppConfigPath string
)

func init() {
	flag.BoolVar(&IsDevelopment, "dev", true, "set to true if the current run is for development. default value is true")
	flag.StringVar(&ServiceName, "service", APIServer, "'api_server', 'feed_distributor' or 'feed_maintenance'")
	flag.BoolVar(&ByPassAuth, "no_auth", false, "set to true to skip the identity middleware, local debugging only")
	flag.StringVar(&AppConfigPath, "app_config_path", "", "path to the feed engine yaml config, built-in defaults when empty")
	flag.Parse()
}
