// Command storyrelay polls one Instagram account's stories, reads the text in
// each image and forwards new stories to a Discord channel.
package main

func main() {
	Execute()
}
