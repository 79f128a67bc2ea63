// Package session persists the authenticated Instagram session between runs.
//
// A Session is an explicit value: the feed adapter loads it from a Store,
// validates it against the API, and replaces it after a fresh login. Three
// backends are available:
//
//   - FileStore: plain JSON file with 0600 permissions
//   - EncryptedFileStore: AES-GCM with a PBKDF2-derived key
//   - KeyringStore: the system keychain via go-keyring
//
// The keychain also holds the account password saved by `storyrelay auth login`.
package session
