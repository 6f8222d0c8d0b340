// machp is a command-line inspector for Mach-O binaries. It decodes fat
// archives, thin 64-bit images, their load commands, symbol tables and
// embedded code signatures, and emits a JSON report per file.
package main
