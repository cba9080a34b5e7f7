// Package cmd provides the command-line interface for framecast.
//
// Every command is a thin caller over the internal packages: it loads
// configuration, builds a render job from flags and hands it to the plan,
// render, playback or history packages.
//
// # Available Commands
//
//   - render: Render a template to an MP4 or WebM file
//   - preview: Serve an interactive player that reloads on save
//   - inspect: Print a template's statically recovered config
//   - validate: Compile a template and check its first frame
//   - presets: List a template's resolved output presets
//   - doctor: Check that Chrome and ffmpeg are usable
//   - history: List and show past renders
//   - config: Show, create or validate configuration
//   - version: Show build information
//
// # Command Examples
//
//	// Render with the template's own settings
//	framecast render scene.tsx -o scene.mp4
//
//	// Render every declared preset as WebM
//	framecast render scene.tsx --all-presets --format webm
//
//	// Preview on another port without opening a browser
//	framecast preview scene.tsx --port 3000 --no-open
//
//	// Inspect a template as JSON
//	framecast inspect scene.tsx --format json
//
// # Configuration Integration
//
// Commands respect configuration from multiple sources in order of precedence:
//
//  1. Command-line flags (highest priority)
//  2. Environment variables (FRAMECAST_*)
//  3. Configuration file (.framecast.yml or FRAMECAST_CONFIG_FILE)
//  4. Default values (lowest priority)
package cmd
