// Package banner prints the loom startup banner.
package banner

import "fmt"

// Logo is the ASCII art logo for loom.
const Logo = `
   ██╗      ██████╗  ██████╗ ███╗   ███╗
   ██║     ██╔═══██╗██╔═══██╗████╗ ████║
   ██║     ██║   ██║██║   ██║██╔████╔██║
   ██║     ██║   ██║██║   ██║██║╚██╔╝██║
   ███████╗╚██████╔╝╚██████╔╝██║ ╚═╝ ██║
   ╚══════╝ ╚═════╝  ╚═════╝ ╚═╝     ╚═╝
`

// Tagline is the project tagline.
const Tagline = "weaves issues through plan, implement, review, merge"

// Print prints the banner with tagline.
func Print() {
	fmt.Print(Logo)
	fmt.Printf("   %s\n\n", Tagline)
}

// StartupBanner prints the banner shown when the daemon starts a tick loop
// against a given repository and state directory.
func StartupBanner(version, repo, stateDir string) {
	fmt.Print(Logo)
	fmt.Printf("   %s\n", Tagline)
	fmt.Println()
	fmt.Printf("   Version:    v%s\n", version)
	fmt.Printf("   Repository: %s\n", repo)
	fmt.Printf("   State dir:  %s\n", stateDir)
	fmt.Println()
}
