// Package embeddings is the client for the sequence embedding service.
//
// The service holds a trained model per session: StartSession loads a model
// and returns a session id, Encode maps sequences to latent points, Decode
// maps latent points back to sequences, and EndSession releases the model.
// Encode and Decode are not exact inverses.
package embeddings
