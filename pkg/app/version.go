package app

import "github.com/small-frappuccino/teamlists/pkg/util"

// Version is the running release, shown by botinfo and the version command.
const Version = util.Version
