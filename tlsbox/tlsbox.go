// Package tlsbox defines the pluggable byte-transform boundary a Session
// can sit behind to add transport security, generalized from ZLToolKit's
// SSL_Box (original_source/ZLToolKit/src/Network/Sockutil.h and
// src/network/SSLbox.h/.cc): a Box sits between the socket and the
// session, encrypting bytes about to be sent and decrypting bytes just
// received. No concrete implementation ships here; wiring a real TLS (or
// any other) transform is left to callers, same as ZLToolKit leaves
// SSL_Box as an optional collaborator rather than baking OpenSSL into
// TcpSession itself.
package tlsbox

// Box transforms bytes crossing the socket boundary in both directions.
// Implementations are expected to be stateful (handshake, key schedule)
// and are owned exclusively by one Session for its lifetime.
type Box interface {
	// EncryptSend transforms plaintext about to be written to the socket.
	EncryptSend(plain []byte) (cipher []byte, err error)

	// DecryptRecv transforms bytes just read from the socket.
	DecryptRecv(cipher []byte) (plain []byte, err error)

	// Close releases any resources held by the box.
	Close() error
}
