package engine

// Chat texts the bot sends. Kept together so wording changes stay in one place.

func welcomeMessage() string {
	return "Welcome to the webxdc store!"
}

func frontendUpdateMessage() string {
	return "Here is the latest version of the store."
}
