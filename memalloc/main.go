// Command memalloc drives an allocation engine from request scripts.
package main

import "github.com/sarchlab/memalloc/memalloc/cmd"

func main() {
	cmd.Execute()
}
