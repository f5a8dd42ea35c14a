package metadata

// FilterUniqueLinks removes duplicate links, keeping first occurrences
func FilterUniqueLinks(links []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(links))

	for _, link := range links {
		if !seen[link] {
			seen[link] = true
			result = append(result, link)
		}
	}

	return result
}
