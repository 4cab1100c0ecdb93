package prompt

// GetSystemPrompt pins the model to plain transcription so downstream
// extraction sees the same kind of noisy text a conventional OCR engine
// produces.
func GetSystemPrompt() string {
	return `You are an OCR engine. Transcribe every piece of printed text visible in the image exactly as it appears, preserving line breaks. Output the raw transcription only: no markdown, no commentary, no translation, no corrections. If the image contains no readable text, output an empty string.`
}

// GetUserPrompt is the text part accompanying the image.
func GetUserPrompt() string {
	return "Transcribe all text in this image."
}
