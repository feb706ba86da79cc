// Package monitor renders a live terminal dashboard of one experiment.
//
// The dashboard polls a Source (normally a latentd server, see APISource)
// and shows registry, query pool and optimisation progress with sparklines
// of how they evolved while it was open.
package monitor
