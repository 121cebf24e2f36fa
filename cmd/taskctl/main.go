// Command taskctl reads and changes tasks through the shared task cache.
package main

import "os"

var version = "dev"

func main() {
	if err := Execute(version); err != nil {
		os.Exit(1)
	}
}
