package chat

// Attachment is a file uploaded alongside a question.
type Attachment struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Question is what the answer collaborator receives for one submission.
type Question struct {
	SessionID   string
	Text        string
	Attachments []Attachment
	// History holds settled turns that precede this question, oldest first.
	History []Message
}

// AttachmentNames lists the names in upload order.
func AttachmentNames(items []Attachment) []string {
	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, item.Name)
	}
	return names
}
