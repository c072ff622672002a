package telegrambot

const (
	textUserHelp = "I forward your questions to the curator and bring back the answers.\n\n" +
		"/ask - ask a question\n" +
		"/cancel - cancel the current question\n" +
		"/help - this message"

	textAdminHelp = "Curator commands:\n\n" +
		"/users - recent users\n" +
		"/status - bot status\n" +
		"/dm ID TEXT - message a user through the bot\n" +
		"/direct ID - links to a private chat with a user\n" +
		"/reset - reset your state\n\n" +
		"Use the buttons under a question to reply or change its category."

	textAdminWelcome = "Hi, curator! New questions will appear here."
	textUsageDM      = "Usage: /dm ID TEXT"
	textUsageDirect  = "Usage: /direct ID"
	textTextOnly     = "Please send your question as a text message."
	textRateLimited  = "Too many messages, please slow down."
	textUnsupported  = "This button is no longer active."
)
