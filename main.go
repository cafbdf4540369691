// Command ycstats monitors a yesCode account balance.
package main

import "github.com/theirongolddev/ycstats/cmd"

func main() {
	cmd.Execute()
}
