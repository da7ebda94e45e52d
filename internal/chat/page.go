package chat

// pageWindow converts an offset counted from the newest message into
// chronological page coordinates. Page 1 is the oldest messages, the
// highest page the newest, so offset 0 always lands on the last page
// of the conversation.
func pageWindow(total, limit, offset int) (currentPage int, lastPage bool, totalPages int) {
	if total == 0 {
		return 0, false, 0
	}
	totalPages = (total + limit - 1) / limit
	standard := offset/limit + 1
	currentPage = totalPages - standard + 1
	if currentPage < 1 {
		currentPage = 1
	}
	lastPage = currentPage == 1
	return currentPage, lastPage, totalPages
}
