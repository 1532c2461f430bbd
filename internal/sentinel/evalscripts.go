package sentinel

// Evalscripts for the built-in layers, targeting version 3 of the Process
// API scripting interface. Radar bands are brightened for display; the
// index layers map computed values onto fixed colour ramps.

const evalscriptS1VV = `//VERSION=3
function setup() {
    return {
        input: ["VV"],
        output: { bands: 1, sampleType: "AUTO" }
    };
}

function evaluatePixel(sample) {
    return [2 * sample.VV];
}`

const evalscriptS1VH = `//VERSION=3
function setup() {
    return {
        input: ["VH"],
        output: { bands: 1, sampleType: "AUTO" }
    };
}

function evaluatePixel(sample) {
    return [2 * sample.VH];
}`

const evalscriptS1Flood = `//VERSION=3
function setup() {
    return {
        input: ["VV", "VH"],
        output: { bands: 3, sampleType: "AUTO" }
    };
}

function evaluatePixel(sample) {
    let vv = sample.VV;
    let vh = sample.VH;
    let water = (vv < 0.05 && vh < 0.05) ? 1 : 0;
    return [vv * 3, vh * 3, water * 0.8];
}`

const evalscriptS2TrueColor = `//VERSION=3
function setup() {
    return {
        input: ["B04", "B03", "B02"],
        output: { bands: 3, sampleType: "AUTO" }
    };
}

function evaluatePixel(sample) {
    return [2.5 * sample.B04, 2.5 * sample.B03, 2.5 * sample.B02];
}`

const evalscriptS2FalseColor = `//VERSION=3
function setup() {
    return {
        input: ["B08", "B04", "B03"],
        output: { bands: 3, sampleType: "AUTO" }
    };
}

function evaluatePixel(sample) {
    return [2.5 * sample.B08, 2.5 * sample.B04, 2.5 * sample.B03];
}`

const evalscriptS2NDVI = `//VERSION=3
function setup() {
    return {
        input: ["B04", "B08"],
        output: { bands: 3, sampleType: "AUTO" }
    };
}

function evaluatePixel(sample) {
    let ndvi = (sample.B08 - sample.B04) / (sample.B08 + sample.B04);
    if (ndvi < 0) return [0.8, 0.2, 0.2];
    if (ndvi < 0.2) return [0.9, 0.8, 0.4];
    if (ndvi < 0.4) return [0.8, 0.9, 0.4];
    if (ndvi < 0.6) return [0.4, 0.8, 0.2];
    return [0.1, 0.5, 0.1];
}`

const evalscriptS2NDWI = `//VERSION=3
function setup() {
    return {
        input: ["B03", "B08"],
        output: { bands: 3, sampleType: "AUTO" }
    };
}

function evaluatePixel(sample) {
    let ndwi = (sample.B03 - sample.B08) / (sample.B03 + sample.B08);
    if (ndwi > 0.3) return [0.1, 0.3, 0.9];
    if (ndwi > 0.1) return [0.3, 0.5, 0.8];
    if (ndwi > 0) return [0.5, 0.6, 0.7];
    return [0.6, 0.5, 0.4];
}`
