package common

import (
	"fmt"

	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner
func PrintBanner(version string) {
	b := banner.New()
	b.PrintTopLine()
	b.PrintText(fmt.Sprintf("FormQueue %s", version))
	b.PrintBottomLine()
}
